// Package executor applies one batch of staged rows to the temporal store.
package executor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// maxClaimAttempts bounds how often next-batch selection retries after losing a claim race.
const maxClaimAttempts = 5

// Selector addresses a batch explicitly. The zero value means "the next pending batch".
type Selector struct {
	Table       string
	BatchNumber int
	// Operation narrows the selection when a batch number has both a delete and an insert batch.
	Operation models.Operation
}

func (s Selector) Explicit() bool {
	return s.Table != "" && s.BatchNumber > 0
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Batch            models.Batch
	RecordsProcessed int
	RecordsApplied   int
	AlreadyCompleted bool
	// Idle is set when there was no pending batch to run.
	Idle bool
}

type Executor struct {
	logger   ectologger.Logger
	tx       database.Scoper
	batches  repositories.BatchRepo
	staging  repositories.StagingRepo
	temporal repositories.TemporalRepo
}

func NewExecutor(logger ectologger.Logger, store *repositories.Store) *Executor {
	return &Executor{
		logger:   logger,
		tx:       store.Scoper,
		batches:  store.Batches,
		staging:  store.Staging,
		temporal: store.Temporal,
	}
}

// Execute claims one batch of the job and applies it. A failure while applying rolls back every
// write of the batch and leaves it failed with the error message, so it can be retried.
func (e *Executor) Execute(ctx context.Context, job *models.ImportJob, sel Selector) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "executor.Execute")
	defer span.End()

	var (
		claimed *models.Batch
		outcome *Outcome
		err     error
	)
	if sel.Explicit() {
		claimed, outcome, err = e.claimExplicit(ctx, job, sel)
	} else {
		claimed, err = e.claimNext(ctx, job)
		if claimed == nil && err == nil {
			outcome = &Outcome{Idle: true}
		}
	}
	if err != nil || outcome != nil {
		return outcome, err
	}

	return e.apply(ctx, job, claimed)
}

func (e *Executor) claimNext(ctx context.Context, job *models.ImportJob) (*models.Batch, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		next, err := e.batches.NextPending(ctx, job.ID)
		if err != nil || next == nil {
			return nil, err
		}

		claimed, err := e.batches.Claim(ctx, next.Ref(), models.BatchStatusPending)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}

		e.logger.WithContext(ctx).WithField("batch", next.Ref().String()).Debug("lost claim race, selecting again")
	}
	return nil, fernerrors.NewConflictError("could not claim a batch of job %s after %d attempts", job.ID, maxClaimAttempts)
}

// claimExplicit claims the addressed batch. Failed batches can be re-claimed this way; completed
// batches are reported as already completed without touching anything.
func (e *Executor) claimExplicit(ctx context.Context, job *models.ImportJob, sel Selector) (*models.Batch, *Outcome, error) {
	table, ok := resolveTable(sel.Table)
	if !ok {
		return nil, nil, fernerrors.NewValidationError("table", "unknown table %q", sel.Table)
	}

	operations := []models.Operation{models.OperationDelete, models.OperationInsert}
	if sel.Operation != "" {
		operations = []models.Operation{sel.Operation}
	}

	var completed, busy *models.Batch
	for _, op := range operations {
		ref := models.BatchRef{JobID: job.ID, TableName: table.StoreTable, BatchNumber: sel.BatchNumber, Operation: op}
		batch, err := e.batches.Get(ctx, ref)
		if fernerrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		switch batch.Status {
		case models.BatchStatusCompleted:
			completed = batch
			continue
		case models.BatchStatusProcessing:
			busy = batch
			continue
		}

		claimed, err := e.batches.Claim(ctx, ref, models.BatchStatusPending, models.BatchStatusFailed)
		if err != nil {
			return nil, nil, err
		}
		if claimed != nil {
			return claimed, nil, nil
		}
		busy = batch
	}

	switch {
	case busy != nil:
		return nil, nil, fernerrors.NewConflictError("batch %s is already being processed", busy.Ref())
	case completed != nil:
		return nil, &Outcome{Batch: *completed, AlreadyCompleted: true, RecordsApplied: completed.RecordsApplied}, nil
	default:
		return nil, nil, fernerrors.NotFound("job %s has no batch %d for table %s", job.ID, sel.BatchNumber, table.StoreTable)
	}
}

func resolveTable(name string) (*registry.Table, bool) {
	if t, ok := registry.ByStoreTable(name); ok {
		return t, true
	}
	return registry.Lookup(name)
}

func (e *Executor) apply(ctx context.Context, job *models.ImportJob, batch *models.Batch) (*Outcome, error) {
	ref := batch.Ref()
	logger := e.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
		"batch":  ref.String(),
	})
	started := time.Now()

	table, ok := registry.ByStoreTable(batch.TableName)
	if !ok {
		return nil, e.fail(ctx, ref, started, fernerrors.NewValidationError("table", "unknown store table %q", batch.TableName))
	}

	outcome := &Outcome{}
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		rows, err := e.staging.ReadBatch(ctx, table, ref)
		if err != nil {
			return err
		}

		var applied int64
		switch ref.Operation {
		case models.OperationDelete:
			applied, err = e.historize(ctx, table, rows, job.ExtractNumber)
		case models.OperationInsert:
			applied, err = e.insert(ctx, table, rows, job)
		}
		if err != nil {
			return err
		}

		if _, err := e.staging.MarkProcessed(ctx, table, ref); err != nil {
			return err
		}
		if err := e.batches.Complete(ctx, ref, int(applied)); err != nil {
			return err
		}

		outcome.RecordsProcessed = len(rows)
		outcome.RecordsApplied = int(applied)
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, ref, started, err)
	}

	done, err := e.batches.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	outcome.Batch = *done

	metrics.RecordBatch(table.StoreTable, string(ref.Operation), "completed", time.Since(started).Seconds(), outcome.RecordsApplied)
	logger.WithFields(map[string]any{
		"records_processed": outcome.RecordsProcessed,
		"records_applied":   outcome.RecordsApplied,
		"duration_ms":       time.Since(started).Milliseconds(),
	}).Info("batch completed")
	return outcome, nil
}

// fail records the error on the batch outside the rolled back transaction.
func (e *Executor) fail(ctx context.Context, ref models.BatchRef, started time.Time, cause error) error {
	metrics.RecordBatch(ref.TableName, string(ref.Operation), "failed", time.Since(started).Seconds(), 0)

	if err := e.batches.Fail(ctx, ref, cause.Error()); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).
			Error("failed to record batch failure, batch stays processing until recovered")
	}

	e.logger.WithContext(ctx).WithError(cause).WithField("batch", ref.String()).Error("batch failed")
	return fernerrors.NewExecutionError(ref, cause)
}

// historize marks the current rows of every staged key as historical.
func (e *Executor) historize(ctx context.Context, table *registry.Table, rows []registry.StagedRow, extractNumber int) (int64, error) {
	keys := uniqueKeys(rows, func(r registry.StagedRow) string { return r.Record.Text(table.DeleteColumn) })
	return e.temporal.Historize(ctx, table, table.DeleteColumn, keys, extractNumber)
}

// insert writes every staged row as the new current version. An identity that is still current from
// an earlier extract is historized first so there is never more than one current version.
func (e *Executor) insert(ctx context.Context, table *registry.Table, rows []registry.StagedRow, job *models.ImportJob) (int64, error) {
	versioned := make([]registry.VersionedRow, len(rows))
	for i, row := range rows {
		versioned[i] = registry.VersionedRow{
			Identity: table.Identity(row.Record),
			Record:   row.Record,
		}
		if table.Kind == registry.KindLink {
			versioned[i].EntityType = registry.EntityTypeOf(row.Record.Text("entity_number"))
		}
	}

	identities := uniqueKeys(versioned, func(r registry.VersionedRow) string { return r.Identity })

	if table.IsEnterprise() {
		prior, err := e.temporal.PriorNames(ctx, identities, job.ExtractNumber)
		if err != nil {
			return 0, err
		}
		for i := range versioned {
			if name, ok := prior[versioned[i].Identity]; ok {
				versioned[i].PrimaryName = &name
			}
		}
	}

	if _, err := e.temporal.Historize(ctx, table, table.IdentityColumn, identities, job.ExtractNumber); err != nil {
		return 0, err
	}

	return e.temporal.Insert(ctx, table, versioned, models.Version{
		SnapshotDate:  job.SnapshotDate.Format(time.DateOnly),
		ExtractNumber: job.ExtractNumber,
	})
}

func uniqueKeys[T any](items []T, key func(T) string) []string {
	seen := make(map[string]struct{}, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		k := key(item)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
