// Package importer exposes the import operations. Every operation runs against its own scoped store
// handle that is released on every exit path.
package importer

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/internal/services/executor"
	"github.com/Ramsey-B/fern/internal/services/finalizer"
	"github.com/Ramsey-B/fern/internal/services/staging"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metadata"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planner"
	"github.com/Ramsey-B/fern/pkg/progress"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Package is an opened delta package.
type Package interface {
	staging.Package
	Manifest() (map[string]string, error)
}

type PrepareOptions struct {
	WorkerID string
	// ExtractType is the kind of package the caller means to import; it defaults to update.
	ExtractType models.ExtractType
}

type Service struct {
	logger    ectologger.Logger
	store     *repositories.Store
	loader    *staging.Loader
	executor  *executor.Executor
	finalizer *finalizer.Finalizer
	emitter   *events.Emitter
}

func NewService(logger ectologger.Logger, store *repositories.Store, policy planner.Policy, emitter *events.Emitter) *Service {
	if emitter == nil {
		emitter = events.NewEmitter(nil, logger)
	}
	return &Service{
		logger:    logger,
		store:     store,
		loader:    staging.NewLoader(logger, store.Staging, policy),
		executor:  executor.NewExecutor(logger, store),
		finalizer: finalizer.NewFinalizer(logger, store),
		emitter:   emitter,
	}
}

// Prepare validates the manifest, stages every table and plans the batches. The job, its batches and
// its staged rows are written in one transaction.
func (s *Service) Prepare(ctx context.Context, pkg Package, opts PrepareOptions) (*models.PrepareResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Prepare")
	defer span.End()

	if opts.ExtractType == "" {
		opts.ExtractType = models.ExtractTypeUpdate
	}
	if opts.WorkerID == "" {
		opts.WorkerID = appctx.GetWorkerID(ctx)
	}

	manifest, err := pkg.Manifest()
	if err != nil {
		metrics.JobsPrepared.WithLabelValues("invalid").Inc()
		return nil, fernerrors.NewValidationError("manifest", "%v", err)
	}
	meta, err := metadata.Parse(manifest, opts.ExtractType)
	if err != nil {
		metrics.JobsPrepared.WithLabelValues("invalid").Inc()
		return nil, err
	}

	job := &models.ImportJob{
		ID:               uuid.New(),
		ExtractNumber:    meta.ExtractNumber,
		ExtractType:      meta.ExtractType,
		SnapshotDate:     meta.SnapshotDate,
		ExtractTimestamp: meta.ExtractTimestamp,
		FormatVersion:    meta.FormatVersion,
		Status:           models.JobStatusPending,
		WorkerID:         opts.WorkerID,
	}

	var result *models.PrepareResult
	err = s.store.Scope(ctx, func(ctx context.Context) error {
		latest, err := s.store.Jobs.LatestActive(ctx)
		if err != nil {
			return err
		}
		switch {
		case latest == nil:
		case latest.ExtractNumber == meta.ExtractNumber:
			return fernerrors.NewConflictError("extract %d is already imported by job %s (%s)", meta.ExtractNumber, latest.ID, latest.Status)
		case latest.ExtractNumber > meta.ExtractNumber:
			return fernerrors.NewConflictError("extract %d is older than extract %d of job %s (%s)", meta.ExtractNumber, latest.ExtractNumber, latest.ID, latest.Status)
		}

		return s.store.InTx(ctx, func(ctx context.Context) error {
			staged, err := s.loader.Load(ctx, pkg, meta.ExtractType, job.ID)
			if err != nil {
				return err
			}
			job.DuplicatesRemoved = int64(staged.Duplicates)

			if err := s.store.Jobs.Create(ctx, job); err != nil {
				return err
			}
			if err := s.store.Batches.CreateMany(ctx, staged.Batches); err != nil {
				return err
			}

			result = &models.PrepareResult{
				JobID:             job.ID,
				ExtractNumber:     job.ExtractNumber,
				SnapshotDate:      meta.SnapshotDateString(),
				TotalBatches:      len(staged.Batches),
				BatchesByTable:    staged.BatchesByTable,
				RecordsByTable:    staged.RecordsByTable,
				DuplicatesRemoved: staged.Duplicates,
				SkippedTables:     staged.Skipped,
			}
			return nil
		})
	})
	if err != nil {
		metrics.JobsPrepared.WithLabelValues("failed").Inc()
		s.logger.WithContext(ctx).WithError(err).WithField("extract_number", meta.ExtractNumber).Error("prepare failed")
		return nil, err
	}

	metrics.JobsPrepared.WithLabelValues("prepared").Inc()
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":         job.ID,
		"extract_number": job.ExtractNumber,
		"total_batches":  result.TotalBatches,
	}).Info("import job prepared")
	s.emitter.JobPrepared(ctx, job, result)
	return result, nil
}

// ProcessBatch applies one batch: the addressed one, or the next pending one in processing order.
func (s *Service) ProcessBatch(ctx context.Context, jobID uuid.UUID, sel executor.Selector) (*models.ProcessResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.ProcessBatch")
	defer span.End()
	ctx = appctx.SetJobID(ctx, jobID.String())

	var result *models.ProcessResult
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.store.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == models.JobStatusFailed {
			return fernerrors.NewConflictError("job %s has failed", job.ID)
		}
		if job.Status == models.JobStatusPending {
			if err := s.store.Jobs.MarkProcessing(ctx, job.ID); err != nil {
				return err
			}
		}

		outcome, execErr := s.executor.Execute(ctx, job, sel)
		if execErr != nil {
			var ee *fernerrors.ExecutionError
			if errors.As(execErr, &ee) {
				s.emitter.BatchFailed(ctx, job, ee.Batch, execErr)
			}
			return execErr
		}

		batches, err := s.store.Batches.ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}

		result = &models.ProcessResult{
			TableName:        outcome.Batch.TableName,
			BatchNumber:      outcome.Batch.BatchNumber,
			Operation:        outcome.Batch.Operation,
			RecordsProcessed: outcome.RecordsProcessed,
			RecordsApplied:   outcome.RecordsApplied,
			AlreadyCompleted: outcome.AlreadyCompleted,
			Idle:             outcome.Idle,
			Progress:         progress.Batch(batches),
			NextBatch:        progress.Summarize(job, batches).NextBatch,
		}
		if !outcome.Idle && !outcome.AlreadyCompleted {
			s.emitter.BatchCompleted(ctx, job, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) GetProgress(ctx context.Context, jobID uuid.UUID) (*models.Progress, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.GetProgress")
	defer span.End()

	var p *models.Progress
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.store.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		batches, err := s.store.Batches.ListByJob(ctx, jobID)
		if err != nil {
			return err
		}
		p = progress.Summarize(job, batches)
		return nil
	})
	return p, err
}

func (s *Service) Finalize(ctx context.Context, jobID uuid.UUID) (*models.FinalizeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Finalize")
	defer span.End()
	ctx = appctx.SetJobID(ctx, jobID.String())

	var result *models.FinalizeResult
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.store.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		result, err = s.finalizer.Finalize(ctx, job)
		if err != nil {
			return err
		}
		if !result.AlreadyCompleted {
			s.emitter.JobCompleted(ctx, job, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.GetJob")
	defer span.End()

	var job *models.ImportJob
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		var err error
		job, err = s.store.Jobs.GetByID(ctx, jobID)
		return err
	})
	return job, err
}

func (s *Service) ListJobs(ctx context.Context, statuses []models.JobStatus, limit int) ([]models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.ListJobs")
	defer span.End()

	var jobs []models.ImportJob
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		var err error
		jobs, err = s.store.Jobs.List(ctx, statuses, limit)
		return err
	})
	return jobs, err
}

// RetryFailed puts every failed batch of the job back to pending.
func (s *Service) RetryFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.RetryFailed")
	defer span.End()

	var reset int64
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.activeJob(ctx, jobID)
		if err != nil {
			return err
		}
		reset, err = s.store.Batches.ResetFailed(ctx, jobID)
		if err != nil {
			return err
		}
		if reset > 0 {
			s.logger.WithContext(ctx).WithFields(map[string]any{"job_id": jobID, "reset": reset}).Info("failed batches reset")
			s.emitter.BatchesChanged(ctx, events.BatchesReset, job, reset)
		}
		return nil
	})
	return reset, err
}

// RecoverStale reverts batches that have been processing for longer than olderThan.
func (s *Service) RecoverStale(ctx context.Context, jobID uuid.UUID, olderThan time.Duration) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.RecoverStale")
	defer span.End()

	if olderThan <= 0 {
		return 0, fernerrors.NewValidationError("older_than", "must be positive, got %s", olderThan)
	}

	var reverted int64
	err := s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.activeJob(ctx, jobID)
		if err != nil {
			return err
		}
		reverted, err = s.store.Batches.RevertStale(ctx, jobID, olderThan)
		if err != nil {
			return err
		}
		if reverted > 0 {
			s.emitter.BatchesChanged(ctx, events.BatchesRecovered, job, reverted)
		}
		return nil
	})
	return reverted, err
}

// Abort marks an unfinished job failed. Its extract number can then be prepared again.
func (s *Service) Abort(ctx context.Context, jobID uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Abort")
	defer span.End()

	if reason == "" {
		reason = "aborted by operator"
	}

	return s.store.Scope(ctx, func(ctx context.Context) error {
		job, err := s.activeJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := s.store.Jobs.Fail(ctx, jobID, reason); err != nil {
			return err
		}
		s.logger.WithContext(ctx).WithFields(map[string]any{"job_id": jobID, "reason": reason}).Warn("import job aborted")
		s.emitter.JobFailed(ctx, job, reason)
		return nil
	})
}

func (s *Service) activeJob(ctx context.Context, jobID uuid.UUID) (*models.ImportJob, error) {
	job, err := s.store.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fernerrors.NewConflictError("job %s is %s", job.ID, job.Status)
	}
	return job, nil
}
