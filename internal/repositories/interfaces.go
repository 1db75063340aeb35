package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

// JobRepo persists import jobs.
type JobRepo interface {
	Create(ctx context.Context, job *models.ImportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	// LatestActive returns the non-failed job with the highest extract number, or nil.
	LatestActive(ctx context.Context) (*models.ImportJob, error)
	List(ctx context.Context, statuses []models.JobStatus, limit int) ([]models.ImportJob, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// Complete moves a pending or processing job to completed. It reports false when the job was
	// already completed.
	Complete(ctx context.Context, id uuid.UUID, totals models.JobTotals) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, message string) error
}

// BatchRepo persists batch tracking records. Every status change is a single guarded statement.
type BatchRepo interface {
	CreateMany(ctx context.Context, batches []models.Batch) error
	Get(ctx context.Context, ref models.BatchRef) (*models.Batch, error)
	// ListByJob returns the job's batches in processing order.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Batch, error)
	// NextPending returns the first pending batch in processing order, or nil.
	NextPending(ctx context.Context, jobID uuid.UUID) (*models.Batch, error)
	// Claim moves the batch to processing if its status is one of from. It returns nil when another
	// caller got there first or the batch is in any other status.
	Claim(ctx context.Context, ref models.BatchRef, from ...models.BatchStatus) (*models.Batch, error)
	// Complete moves a processing batch to completed.
	Complete(ctx context.Context, ref models.BatchRef, applied int) error
	Fail(ctx context.Context, ref models.BatchRef, message string) error
	ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error)
	// RevertStale puts batches that have been processing longer than olderThan back to pending.
	RevertStale(ctx context.Context, jobID uuid.UUID, olderThan time.Duration) (int64, error)
}

// StagingRepo holds a job's raw delta rows until finalize.
type StagingRepo interface {
	Insert(ctx context.Context, table *registry.Table, jobID uuid.UUID, rows []registry.StagedRow) error
	// ReadBatch returns the unprocessed rows of a batch in row order.
	ReadBatch(ctx context.Context, table *registry.Table, ref models.BatchRef) ([]registry.StagedRow, error)
	MarkProcessed(ctx context.Context, table *registry.Table, ref models.BatchRef) (int64, error)
	Purge(ctx context.Context, table *registry.Table, jobID uuid.UUID) (int64, error)
}

// TemporalRepo reads and writes the versioned tables.
type TemporalRepo interface {
	// Historize flips current rows matching keys on column to historical, stamping the extract.
	// Only rows from earlier extracts are touched.
	Historize(ctx context.Context, table *registry.Table, column string, keys []string, extractNumber int) (int64, error)
	// Insert adds rows as current versions. A row whose identity already has a version for this
	// extract is skipped.
	Insert(ctx context.Context, table *registry.Table, rows []registry.VersionedRow, version models.Version) (int64, error)
	// PriorNames returns the latest resolved primary name of each enterprise from earlier extracts.
	PriorNames(ctx context.Context, enterpriseNumbers []string, extractNumber int) (map[string]models.PrimaryName, error)
	// UnresolvedEnterprises lists current enterprises of the extract still carrying the placeholder name.
	UnresolvedEnterprises(ctx context.Context, extractNumber int) ([]string, error)
	// LegalNames returns the current legal-name denominations of the entities.
	LegalNames(ctx context.Context, entityNumbers []string) ([]models.LegalName, error)
	SetPrimaryNames(ctx context.Context, names []models.PrimaryName, extractNumber int) (int64, error)
}
