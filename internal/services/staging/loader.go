// Package staging reads the delta files of a package into typed rows, assigns each row its batch and
// writes the rows to the per-table staging areas.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/archive"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planner"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Package is the part of an opened delta package the loader reads.
type Package interface {
	Files() []archive.File
	OpenFile(name string) (*archive.TableReader, error)
}

// Result describes what was staged for a job.
type Result struct {
	Batches        []models.Batch
	BatchesByTable map[string]int
	RecordsByTable map[string]int
	Duplicates     int
	Skipped        []string
}

type Loader struct {
	logger  ectologger.Logger
	staging repositories.StagingRepo
	policy  planner.Policy
}

func NewLoader(logger ectologger.Logger, staging repositories.StagingRepo, policy planner.Policy) *Loader {
	return &Loader{logger: logger, staging: staging, policy: policy}
}

// tableFiles groups the files of one registry table.
type tableFiles struct {
	table  *registry.Table
	delete *archive.File
	insert *archive.File
}

// Load stages every known table of the package. The first unreadable table aborts the load; callers
// run it in a transaction so nothing of the job survives.
func (l *Loader) Load(ctx context.Context, pkg Package, extractType models.ExtractType, jobID uuid.UUID) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Loader.Load")
	defer span.End()

	groups, skipped := l.group(pkg.Files(), extractType)

	result := &Result{
		BatchesByTable: map[string]int{},
		RecordsByTable: map[string]int{},
		Skipped:        skipped,
	}

	for _, g := range groups {
		if g.delete != nil {
			rows, _, err := l.read(pkg, g.table, *g.delete, models.OperationDelete)
			if err != nil {
				return nil, err
			}
			if err := l.stage(ctx, g.table, models.OperationDelete, rows, jobID, result); err != nil {
				return nil, err
			}
		}

		if g.insert != nil {
			rows, duplicates, err := l.read(pkg, g.table, *g.insert, models.OperationInsert)
			if err != nil {
				return nil, err
			}
			result.Duplicates += duplicates
			metrics.RecordStaged(g.table.StoreTable, string(models.OperationInsert), 0, duplicates)
			if err := l.stage(ctx, g.table, models.OperationInsert, rows, jobID, result); err != nil {
				return nil, err
			}
		}
	}

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":     jobID,
		"batches":    len(result.Batches),
		"duplicates": result.Duplicates,
		"skipped":    len(result.Skipped),
	}).Info("staged package")
	return result, nil
}

func (l *Loader) group(files []archive.File, extractType models.ExtractType) ([]*tableFiles, []string) {
	byTable := map[string]*tableFiles{}
	var plain []archive.File
	var skipped []string

	for i := range files {
		f := files[i]
		table, ok := registry.Lookup(f.Table)
		if !ok {
			skipped = append(skipped, f.Path)
			continue
		}
		if f.Plain {
			plain = append(plain, f)
			continue
		}

		g := byTable[table.StoreTable]
		if g == nil {
			g = &tableFiles{table: table}
			byTable[table.StoreTable] = g
		}
		if f.Operation == models.OperationDelete {
			g.delete = &f
		} else {
			g.insert = &f
		}
	}

	// A full extract ships "<table>.csv" as the complete insert set.
	for i := range plain {
		f := plain[i]
		table, _ := registry.Lookup(f.Table)
		g := byTable[table.StoreTable]
		if extractType != models.ExtractTypeFull || (g != nil && g.insert != nil) {
			skipped = append(skipped, f.Path)
			continue
		}
		if g == nil {
			g = &tableFiles{table: table}
			byTable[table.StoreTable] = g
		}
		g.insert = &f
	}

	groups := make([]*tableFiles, 0, len(byTable))
	for _, g := range byTable {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].table.StoreTable < groups[j].table.StoreTable })
	sort.Strings(skipped)
	return groups, skipped
}

// read converts a whole file into records. Exact duplicate insert rows are dropped and counted.
func (l *Loader) read(pkg Package, table *registry.Table, file archive.File, op models.Operation) ([]registry.Record, int, error) {
	fail := func(err error) *fernerrors.StagingError {
		return fernerrors.NewStagingError(table.Name, file.Path, err)
	}

	r, err := pkg.OpenFile(file.Path)
	if err != nil {
		return nil, 0, fail(err)
	}
	defer r.Close()

	binding, err := table.Bind(r.Header(), op)
	if err != nil {
		return nil, 0, fail(err)
	}

	var records []registry.Record
	seen := map[string]struct{}{}
	duplicates := 0
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fail(err).AtRow(r.Line())
		}

		record, err := binding.Record(row)
		if err != nil {
			return nil, 0, fail(err).AtRow(r.Line())
		}

		if op == models.OperationInsert {
			key := fingerprint.Generate(record.Map())
			if _, dup := seen[key]; dup {
				duplicates++
				continue
			}
			seen[key] = struct{}{}
		}
		records = append(records, record)
	}
	return records, duplicates, nil
}

func (l *Loader) stage(ctx context.Context, table *registry.Table, op models.Operation, records []registry.Record, jobID uuid.UUID, result *Result) error {
	allocation := l.policy.Plan(table.StoreTable, op, len(records))
	if allocation.Batches == 0 {
		return nil
	}

	rows := make([]registry.StagedRow, len(records))
	for i, record := range records {
		rows[i] = registry.StagedRow{
			RowNumber:   i + 1,
			BatchNumber: allocation.BatchNumber(i),
			Operation:   op,
			Record:      record,
		}
	}

	if err := l.staging.Insert(ctx, table, jobID, rows); err != nil {
		return fernerrors.NewStagingError(table.Name, table.StagingTable, fmt.Errorf("writing staging rows: %w", err))
	}

	result.Batches = append(result.Batches, allocation.Tracking(jobID)...)
	result.BatchesByTable[table.StoreTable] += allocation.Batches
	result.RecordsByTable[table.StoreTable] += len(records)
	metrics.RecordStaged(table.StoreTable, string(op), len(records), 0)

	l.logger.WithContext(ctx).WithFields(map[string]any{
		"table":      table.StoreTable,
		"operation":  op,
		"records":    len(records),
		"batches":    allocation.Batches,
		"batch_size": allocation.Size,
	}).Debug("staged table")
	return nil
}
