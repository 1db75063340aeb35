package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

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

const jobsTable = "import_jobs"

var jobStruct = database.NewStruct(new(models.ImportJob))

// JobRepository handles database operations for import jobs
type JobRepository struct {
	*Repository
}

func NewJobRepository(db database.DB, logger ectologger.Logger) *JobRepository {
	return &JobRepository{Repository: NewRepository(db, logger)}
}

// Create inserts a pending job
func (r *JobRepository) Create(ctx context.Context, job *models.ImportJob) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Create")
	defer span.End()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(jobsTable).
		Cols("id", "extract_number", "extract_type", "snapshot_date", "extract_timestamp", "format_version",
			"status", "worker_id", "duplicates_removed", "created_at", "updated_at").
		Values(job.ID, job.ExtractNumber, job.ExtractType, job.SnapshotDate, job.ExtractTimestamp, job.FormatVersion,
			job.Status, job.WorkerID, job.DuplicatesRemoved, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB(ctx).QueryRowxContext(ctx, query, args...).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id":         job.ID,
			"extract_number": job.ExtractNumber,
		}).Error("failed to create import job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import job")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": job.ID,
	}).Debugf("Created %s", jobsTable)
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.GetByID")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.ImportJob
	err := r.DB(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fernerrors.NotFound("import job %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Error("failed to get import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import job")
	}
	return &job, nil
}

func (r *JobRepository) LatestActive(ctx context.Context) (*models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.LatestActive")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	sb.Where(sb.NotEqual("status", models.JobStatusFailed)).
		OrderBy("extract_number").Desc().
		Limit(1)

	query, args := sb.Build()
	var job models.ImportJob
	err := r.DB(ctx).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to find latest import job")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find import job")
	}
	return &job, nil
}

// List returns jobs newest first, optionally restricted to statuses
func (r *JobRepository) List(ctx context.Context, statuses []models.JobStatus, limit int) ([]models.ImportJob, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.List")
	defer span.End()

	sb := jobStruct.SelectFrom(jobsTable)
	if len(statuses) > 0 {
		sb.Where(sb.In("status", ectolinq.Map(statuses, func(s models.JobStatus) any { return s })...))
	}
	sb.OrderBy("created_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	jobs := []models.ImportJob{}
	if err := r.DB(ctx).SelectContext(ctx, &jobs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list import jobs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import jobs")
	}

	r.logger.WithContext(ctx).WithField("count", len(jobs)).Debugf("Listed %s", jobsTable)
	return jobs, nil
}

// MarkProcessing moves a pending job to processing; other statuses are left alone
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.MarkProcessing")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign("status", models.JobStatusProcessing),
			"started_at = COALESCE(started_at, NOW())",
			"updated_at = NOW()",
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.JobStatusPending))

	query, args := ub.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Error("failed to mark import job processing")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import job")
	}
	return nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, totals models.JobTotals) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Complete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign("status", models.JobStatusCompleted),
			ub.Assign("records_processed", totals.Processed),
			ub.Assign("records_inserted", totals.Inserted),
			ub.Assign("records_deleted", totals.Deleted),
			ub.Assign("names_resolved", totals.NamesResolved),
			"error_message = NULL",
			"completed_at = NOW()",
			"updated_at = NOW()",
		).
		Where(ub.Equal("id", id), ub.In("status", models.JobStatusPending, models.JobStatusProcessing))

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Error("failed to complete import job")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete import job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, r.notCompletable(ctx, id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":    id,
		"processed": totals.Processed,
		"inserted":  totals.Inserted,
		"deleted":   totals.Deleted,
	}).Info("import job completed")
	return true, nil
}

// notCompletable explains why Complete changed nothing: the job is missing, failed, or already completed.
func (r *JobRepository) notCompletable(ctx context.Context, id uuid.UUID) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		return fernerrors.NewConflictError("job %s has failed and cannot be completed", id)
	}
	return nil
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	ctx, span := tracing.StartSpan(ctx, "JobRepository.Fail")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(jobsTable).
		Set(
			ub.Assign("status", models.JobStatusFailed),
			ub.Assign("error_message", message),
			"updated_at = NOW()",
		).
		Where(ub.Equal("id", id), ub.NotEqual("status", models.JobStatusCompleted))

	query, args := ub.Build()
	if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("job_id", id).Error("failed to fail import job")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import job")
	}
	return nil
}
