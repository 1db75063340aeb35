// Package metadata parses and validates the manifest of a delta package.
package metadata

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

const (
	VariableSnapshotDate     = "snapshotdate"
	VariableExtractTimestamp = "extracttimestamp"
	VariableExtractType      = "extracttype"
	VariableExtractNumber    = "extractnumber"
	VariableVersion          = "version"
)

const timeLayout = "15:04:05"

var validate = validator.New()

// Metadata is the normalized manifest of one package.
type Metadata struct {
	SnapshotDate     time.Time          `json:"snapshot_date" validate:"required"`
	ExtractTimestamp time.Time          `json:"extract_timestamp" validate:"required"`
	ExtractType      models.ExtractType `json:"extract_type" validate:"required,oneof=full update"`
	ExtractNumber    int                `json:"extract_number" validate:"gt=0"`
	FormatVersion    string             `json:"format_version" validate:"required"`
}

// SnapshotDateString returns the snapshot date in ISO form.
func (m Metadata) SnapshotDateString() string {
	return m.SnapshotDate.Format(time.DateOnly)
}

// Parse normalizes manifest variables and checks the package is of the expected extract type.
// Variable names are matched case-insensitively.
func Parse(variables map[string]string, expected models.ExtractType) (*Metadata, error) {
	values := make(map[string]string, len(variables))
	for k, v := range variables {
		values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	require := func(name string) (string, error) {
		v, ok := values[name]
		if !ok || v == "" {
			return "", fernerrors.NewValidationError(name, "missing manifest variable")
		}
		return v, nil
	}

	raw, err := require(VariableSnapshotDate)
	if err != nil {
		return nil, err
	}
	snapshot, err := registry.ParseDate(raw)
	if err != nil {
		return nil, fernerrors.NewValidationError(VariableSnapshotDate, "%v", err)
	}

	raw, err = require(VariableExtractTimestamp)
	if err != nil {
		return nil, err
	}
	timestamp, err := parseTimestamp(raw)
	if err != nil {
		return nil, err
	}

	raw, err = require(VariableExtractType)
	if err != nil {
		return nil, err
	}
	extractType := models.ExtractType(strings.ToLower(raw))
	if !extractType.Valid() {
		return nil, fernerrors.NewValidationError(VariableExtractType, "unknown extract type %q", raw)
	}
	if expected != "" && extractType != expected {
		return nil, fernerrors.NewValidationError(VariableExtractType, "package is a %s extract, expected %s", extractType, expected)
	}

	raw, err = require(VariableExtractNumber)
	if err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fernerrors.NewValidationError(VariableExtractNumber, "%q is not an integer", raw)
	}

	version, err := require(VariableVersion)
	if err != nil {
		return nil, err
	}

	m := &Metadata{
		SnapshotDate:     snapshot,
		ExtractTimestamp: timestamp,
		ExtractType:      extractType,
		ExtractNumber:    number,
		FormatVersion:    version,
	}
	if err := validate.Struct(m); err != nil {
		return nil, fernerrors.NewValidationError("", "invalid manifest: %v", err)
	}
	return m, nil
}

// parseTimestamp splits "DD-MM-YYYY HH:MM:SS" into its date and time parts.
func parseTimestamp(raw string) (time.Time, error) {
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return time.Time{}, fernerrors.NewValidationError(VariableExtractTimestamp, "%q cannot be split into date and time", raw)
	}

	day, err := registry.ParseDate(parts[0])
	if err != nil {
		return time.Time{}, fernerrors.NewValidationError(VariableExtractTimestamp, "%v", err)
	}
	clock, err := time.Parse(timeLayout, parts[1])
	if err != nil {
		return time.Time{}, fernerrors.NewValidationError(VariableExtractTimestamp, "invalid time %q, expected HH:MM:SS", parts[1])
	}

	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC), nil
}
