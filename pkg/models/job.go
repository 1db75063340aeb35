package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractType is the kind of registry release a package carries.
type ExtractType string

const (
	ExtractTypeFull   ExtractType = "full"
	ExtractTypeUpdate ExtractType = "update"
)

func (t ExtractType) Valid() bool {
	return t == ExtractTypeFull || t == ExtractTypeUpdate
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further batches may run for the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ImportJob is one prepared delta package.
type ImportJob struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	ExtractNumber     int         `db:"extract_number" json:"extract_number"`
	ExtractType       ExtractType `db:"extract_type" json:"extract_type"`
	SnapshotDate      time.Time   `db:"snapshot_date" json:"snapshot_date"`
	ExtractTimestamp  time.Time   `db:"extract_timestamp" json:"extract_timestamp"`
	FormatVersion     string      `db:"format_version" json:"format_version"`
	Status            JobStatus   `db:"status" json:"status"`
	WorkerID          string      `db:"worker_id" json:"worker_id"`
	RecordsProcessed  int64       `db:"records_processed" json:"records_processed"`
	RecordsInserted   int64       `db:"records_inserted" json:"records_inserted"`
	RecordsDeleted    int64       `db:"records_deleted" json:"records_deleted"`
	DuplicatesRemoved int64       `db:"duplicates_removed" json:"duplicates_removed"`
	NamesResolved     int64       `db:"names_resolved" json:"names_resolved"`
	ErrorMessage      *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
	StartedAt         *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt       *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// JobTotals are the aggregate counters written when a job completes.
type JobTotals struct {
	Processed     int64
	Inserted      int64
	Deleted       int64
	NamesResolved int64
}
