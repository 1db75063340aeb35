package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	batchesTable     = "import_batches"
	batchOrder       = "table_name, batch_number, operation"
	batchInsertChunk = 1000
)

var batchStruct = database.NewStruct(new(models.Batch))

var batchColumns = strings.Join([]string{
	"job_id", "table_name", "batch_number", "operation", "status", "record_count", "records_applied",
	"attempts", "error_message", "created_at", "updated_at", "started_at", "completed_at",
}, ", ")

// BatchRepository handles database operations for batch tracking records
type BatchRepository struct {
	*Repository
}

func NewBatchRepository(db database.DB, logger ectologger.Logger) *BatchRepository {
	return &BatchRepository{Repository: NewRepository(db, logger)}
}

func whereRef(cond *sqlbuilder.Cond, ref models.BatchRef) []string {
	return []string{
		cond.Equal("job_id", ref.JobID),
		cond.Equal("table_name", ref.TableName),
		cond.Equal("batch_number", ref.BatchNumber),
		cond.Equal("operation", ref.Operation),
	}
}

func (r *BatchRepository) CreateMany(ctx context.Context, batches []models.Batch) error {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.CreateMany")
	defer span.End()

	for start := 0; start < len(batches); start += batchInsertChunk {
		end := min(start+batchInsertChunk, len(batches))

		ib := database.NewInsertBuilder()
		ib.InsertInto(batchesTable).
			Cols("job_id", "table_name", "batch_number", "operation", "status", "record_count", "created_at", "updated_at")
		for _, b := range batches[start:end] {
			ib.Values(b.JobID, b.TableName, b.BatchNumber, b.Operation, models.BatchStatusPending, b.RecordCount,
				sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))
		}

		query, args := ib.Build()
		if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("count", end-start).Error("failed to create batches")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create batches")
		}
	}

	r.logger.WithContext(ctx).WithField("count", len(batches)).Debugf("Created %s", batchesTable)
	return nil
}

func (r *BatchRepository) Get(ctx context.Context, ref models.BatchRef) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.Get")
	defer span.End()

	sb := batchStruct.SelectFrom(batchesTable)
	sb.Where(whereRef(&sb.Cond, ref)...)

	query, args := sb.Build()
	var batch models.Batch
	err := r.DB(ctx).GetContext(ctx, &batch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fernerrors.NotFound("batch %s of job %s does not exist", ref, ref.JobID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to get batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get batch")
	}
	return &batch, nil
}

func (r *BatchRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.ListByJob")
	defer span.End()

	sb := batchStruct.SelectFrom(batchesTable)
	sb.Where(sb.Equal("job_id", jobID)).OrderBy(batchOrder)

	query, args := sb.Build()
	batches := []models.Batch{}
	if err := r.DB(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID).Error("failed to list batches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list batches")
	}
	return batches, nil
}

func (r *BatchRepository) NextPending(ctx context.Context, jobID uuid.UUID) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.NextPending")
	defer span.End()

	sb := batchStruct.SelectFrom(batchesTable)
	sb.Where(sb.Equal("job_id", jobID), sb.Equal("status", models.BatchStatusPending)).
		OrderBy(batchOrder).
		Limit(1)

	query, args := sb.Build()
	var batch models.Batch
	err := r.DB(ctx).GetContext(ctx, &batch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID).Error("failed to find next batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find next batch")
	}
	return &batch, nil
}

// Claim is a single conditional UPDATE, so two callers racing for the same batch cannot both win.
func (r *BatchRepository) Claim(ctx context.Context, ref models.BatchRef, from ...models.BatchStatus) (*models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.Claim")
	defer span.End()

	if len(from) == 0 {
		from = []models.BatchStatus{models.BatchStatusPending}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable).
		Set(
			ub.Assign("status", models.BatchStatusProcessing),
			"attempts = attempts + 1",
			"error_message = NULL",
			"started_at = NOW()",
			"updated_at = NOW()",
		).
		Where(whereRef(&ub.Cond, ref)...).
		Where(ub.In("status", ectolinq.Map(from, func(s models.BatchStatus) any { return s })...))
	ub.SQL("RETURNING " + batchColumns)

	query, args := ub.Build()
	var batch models.Batch
	err := r.DB(ctx).GetContext(ctx, &batch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to claim batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim batch")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"batch":    ref.String(),
		"attempts": batch.Attempts,
	}).Debug("claimed batch")
	return &batch, nil
}

func (r *BatchRepository) Complete(ctx context.Context, ref models.BatchRef, applied int) error {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.Complete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable).
		Set(
			ub.Assign("status", models.BatchStatusCompleted),
			ub.Assign("records_applied", applied),
			"completed_at = NOW()",
			"updated_at = NOW()",
		).
		Where(whereRef(&ub.Cond, ref)...).
		Where(ub.Equal("status", models.BatchStatusProcessing))

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to complete batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete batch")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s is no longer processing", ref)
	}
	return nil
}

func (r *BatchRepository) Fail(ctx context.Context, ref models.BatchRef, message string) error {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.Fail")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable).
		Set(
			ub.Assign("status", models.BatchStatusFailed),
			ub.Assign("error_message", message),
			"updated_at = NOW()",
		).
		Where(whereRef(&ub.Cond, ref)...).
		Where(ub.Equal("status", models.BatchStatusProcessing))

	query, args := ub.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to mark batch failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark batch failed")
	}
	return nil
}

func (r *BatchRepository) ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.ResetFailed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable).
		Set(
			ub.Assign("status", models.BatchStatusPending),
			"updated_at = NOW()",
		).
		Where(ub.Equal("job_id", jobID), ub.Equal("status", models.BatchStatusFailed))

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID).Error("failed to reset failed batches")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to reset failed batches")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *BatchRepository) RevertStale(ctx context.Context, jobID uuid.UUID, olderThan time.Duration) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "BatchRepository.RevertStale")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable).
		Set(
			ub.Assign("status", models.BatchStatusPending),
			ub.Assign("error_message", "reverted after stalling in processing"),
			"updated_at = NOW()",
		).
		Where(
			ub.Equal("job_id", jobID),
			ub.Equal("status", models.BatchStatusProcessing),
			ub.LessThan("started_at", time.Now().Add(-olderThan)),
		)

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", jobID).Error("failed to revert stale batches")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to revert stale batches")
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id":   jobID,
			"reverted": n,
		}).Warn("reverted stale batches")
	}
	return n, nil
}
