// Package planner decides how a table's staged rows are split into batches.
package planner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBatchSize          = 1000
	DefaultSmallFileThreshold = 5000
)

// DefaultSizes returns the target batch sizes per store table. High fan-out tables get smaller batches.
// Each call returns a fresh map.
func DefaultSizes() map[string]int {
	return map[string]int{
		"enterprises":    2000,
		"establishments": 2000,
		"branches":       2000,
		"denominations":  1000,
		"addresses":      1000,
		"contacts":       1000,
		"activities":     500,
	}
}

// Policy is an immutable batch sizing table. Build one with NewPolicy or LoadPolicy and pass it to
// whoever plans batches.
type Policy struct {
	sizes       map[string]int
	defaultSize int
	threshold   int
}

// NewPolicy copies sizes so later changes to the caller's map do not leak into the policy.
func NewPolicy(sizes map[string]int, defaultSize, smallFileThreshold int) (Policy, error) {
	if defaultSize < 1 {
		return Policy{}, fmt.Errorf("default batch size must be at least 1, got %d", defaultSize)
	}
	if smallFileThreshold < 0 {
		return Policy{}, fmt.Errorf("small file threshold must not be negative, got %d", smallFileThreshold)
	}

	copied := make(map[string]int, len(sizes))
	for table, size := range sizes {
		if size < 1 {
			return Policy{}, fmt.Errorf("batch size for %s must be at least 1, got %d", table, size)
		}
		copied[table] = size
	}

	return Policy{sizes: copied, defaultSize: defaultSize, threshold: smallFileThreshold}, nil
}

func DefaultPolicy() Policy {
	p, _ := NewPolicy(DefaultSizes(), DefaultBatchSize, DefaultSmallFileThreshold)
	return p
}

type policyFile struct {
	DefaultSize        *int           `yaml:"default_size"`
	SmallFileThreshold *int           `yaml:"small_file_threshold"`
	Sizes              map[string]int `yaml:"sizes"`
}

// LoadPolicy starts from DefaultSizes with the given default size and threshold, then applies the
// overrides in the YAML file at path, if path is set.
func LoadPolicy(path string, defaultSize, smallFileThreshold int) (Policy, error) {
	sizes := DefaultSizes()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("failed to read batch size file: %w", err)
		}

		var file policyFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Policy{}, fmt.Errorf("failed to parse batch size file: %w", err)
		}

		if file.DefaultSize != nil {
			defaultSize = *file.DefaultSize
		}
		if file.SmallFileThreshold != nil {
			smallFileThreshold = *file.SmallFileThreshold
		}
		for table, size := range file.Sizes {
			sizes[table] = size
		}
	}

	return NewPolicy(sizes, defaultSize, smallFileThreshold)
}

// BatchSize is the configured target size for a store table.
func (p Policy) BatchSize(table string) int {
	if size, ok := p.sizes[table]; ok {
		return size
	}
	return p.defaultSize
}

func (p Policy) SmallFileThreshold() int {
	return p.threshold
}

// Sizes returns a copy of the per-table sizes.
func (p Policy) Sizes() map[string]int {
	out := make(map[string]int, len(p.sizes))
	for table, size := range p.sizes {
		out[table] = size
	}
	return out
}
