// Package finalizer closes a job once every batch is applied.
package finalizer

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/progress"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// nameChunk bounds how many enterprises are resolved per round trip.
const nameChunk = 5000

// errCompletedElsewhere rolls back a finalize that lost the race to complete the job.
var errCompletedElsewhere = errors.New("job completed by another caller")

type Finalizer struct {
	logger   ectologger.Logger
	tx       database.Scoper
	jobs     repositories.JobRepo
	batches  repositories.BatchRepo
	staging  repositories.StagingRepo
	temporal repositories.TemporalRepo
}

func NewFinalizer(logger ectologger.Logger, store *repositories.Store) *Finalizer {
	return &Finalizer{
		logger:   logger,
		tx:       store.Scoper,
		jobs:     store.Jobs,
		batches:  store.Batches,
		staging:  store.Staging,
		temporal: store.Temporal,
	}
}

// Finalize resolves primary names and completes the job in one transaction, then purges staging.
// Running it again on a completed job only repeats the purge.
func (f *Finalizer) Finalize(ctx context.Context, job *models.ImportJob) (*models.FinalizeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "finalizer.Finalize")
	defer span.End()

	logger := f.logger.WithContext(ctx).WithField("job_id", job.ID)

	switch job.Status {
	case models.JobStatusFailed:
		return nil, fernerrors.NewConflictError("job %s has failed and cannot be finalized", job.ID)
	case models.JobStatusCompleted:
		return f.repurge(ctx, job)
	}

	batches, err := f.batches.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if outstanding := progress.Outstanding(batches); outstanding > 0 {
		metrics.JobsFinalized.WithLabelValues("rejected").Inc()
		return nil, fernerrors.NewPreconditionError(outstanding, "job %s has %d batches that are not completed", job.ID, outstanding)
	}

	result := &models.FinalizeResult{}
	err = f.tx.InTx(ctx, func(ctx context.Context) error {
		resolved, found, err := f.resolveNames(ctx, job.ExtractNumber)
		if err != nil {
			return err
		}
		result.NamesResolved = resolved
		result.NamesFound = found

		totals := Totals(batches)
		totals.NamesResolved = int64(resolved)
		completed, err := f.jobs.Complete(ctx, job.ID, totals)
		if err != nil {
			return err
		}
		if !completed {
			return errCompletedElsewhere
		}
		return nil
	})
	if errors.Is(err, errCompletedElsewhere) {
		stored, err := f.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		return f.repurge(ctx, stored)
	}
	if err != nil {
		metrics.JobsFinalized.WithLabelValues("failed").Inc()
		return nil, err
	}

	purged, err := f.purge(ctx, job)
	if err != nil {
		return nil, err
	}

	result.Success = true
	result.StagingCleaned = true
	result.StagedPurged = purged

	metrics.JobsFinalized.WithLabelValues("completed").Inc()
	metrics.NamesResolved.Add(float64(result.NamesFound))
	logger.WithFields(map[string]any{
		"names_resolved": result.NamesResolved,
		"names_found":    result.NamesFound,
		"staged_purged":  purged,
	}).Info("job finalized")
	return result, nil
}

// resolveNames gives every placeholder-named enterprise of the extract the best legal name it has.
// It returns how many enterprises were examined and how many got a name.
func (f *Finalizer) resolveNames(ctx context.Context, extractNumber int) (int, int, error) {
	unresolved, err := f.temporal.UnresolvedEnterprises(ctx, extractNumber)
	if err != nil {
		return 0, 0, err
	}

	found := 0
	for start := 0; start < len(unresolved); start += nameChunk {
		chunk := unresolved[start:min(start+nameChunk, len(unresolved))]

		legal, err := f.temporal.LegalNames(ctx, chunk)
		if err != nil {
			return 0, 0, err
		}

		byEntity := map[string][]models.LegalName{}
		for _, n := range legal {
			byEntity[n.EntityNumber] = append(byEntity[n.EntityNumber], n)
		}

		var names []models.PrimaryName
		for _, number := range chunk {
			best, ok := registry.ResolvePrimaryName(byEntity[number])
			if !ok {
				continue
			}
			language := best.Language
			names = append(names, models.PrimaryName{EnterpriseNumber: number, Name: best.Denomination, Language: &language})
		}

		if _, err := f.temporal.SetPrimaryNames(ctx, names, extractNumber); err != nil {
			return 0, 0, err
		}
		found += len(names)
	}
	return len(unresolved), found, nil
}

// repurge reports the stored outcome of a completed job after purging whatever staging is left.
func (f *Finalizer) repurge(ctx context.Context, job *models.ImportJob) (*models.FinalizeResult, error) {
	purged, err := f.purge(ctx, job)
	if err != nil {
		return nil, err
	}
	f.logger.WithContext(ctx).WithField("job_id", job.ID).Info("job already completed, staging purged again")
	return &models.FinalizeResult{
		Success:          true,
		AlreadyCompleted: true,
		NamesResolved:    int(job.NamesResolved),
		StagingCleaned:   true,
		StagedPurged:     purged,
	}, nil
}

func (f *Finalizer) purge(ctx context.Context, job *models.ImportJob) (int64, error) {
	var total int64
	for _, table := range registry.Tables() {
		n, err := f.staging.Purge(ctx, table, job.ID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Totals aggregates the job counters from its batch tracking records.
func Totals(batches []models.Batch) models.JobTotals {
	var totals models.JobTotals
	for _, b := range batches {
		totals.Processed += int64(b.RecordCount)
		switch b.Operation {
		case models.OperationInsert:
			totals.Inserted += int64(b.RecordsApplied)
		case models.OperationDelete:
			totals.Deleted += int64(b.RecordsApplied)
		}
	}
	return totals
}
