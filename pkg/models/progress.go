package models

import "github.com/google/uuid"

// TableStatus summarizes the batches of one table.
type TableStatus string

const (
	TableStatusPending    TableStatus = "pending"
	TableStatusProcessing TableStatus = "processing"
	TableStatusCompleted  TableStatus = "completed"
)

type TableProgress struct {
	TableName  string      `json:"table_name"`
	Completed  int         `json:"completed"`
	Total      int         `json:"total"`
	Failed     int         `json:"failed"`
	Status     TableStatus `json:"status"`
	Percentage int         `json:"percentage"`
}

type OverallProgress struct {
	CompletedBatches int `json:"completed_batches"`
	TotalBatches     int `json:"total_batches"`
	FailedBatches    int `json:"failed_batches"`
	Percentage       int `json:"percentage"`
}

// Progress is the read model returned by getProgress.
type Progress struct {
	JobID           uuid.UUID       `json:"job_id"`
	Status          JobStatus       `json:"status"`
	Overall         OverallProgress `json:"overall_progress"`
	Tables          []TableProgress `json:"per_table_status"`
	CurrentBatch    *BatchRef       `json:"current_batch"`
	NextBatch       *BatchRef       `json:"next_batch"`
	ReadyToFinalize bool            `json:"ready_to_finalize"`
}

// BatchProgress is the compact progress figure attached to a processed batch.
type BatchProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type PrepareResult struct {
	JobID             uuid.UUID      `json:"job_id"`
	ExtractNumber     int            `json:"extract_number"`
	SnapshotDate      string         `json:"snapshot_date"`
	TotalBatches      int            `json:"total_batches"`
	BatchesByTable    map[string]int `json:"batches_by_table"`
	RecordsByTable    map[string]int `json:"records_by_table"`
	DuplicatesRemoved int            `json:"duplicates_removed"`
	SkippedTables     []string       `json:"skipped_tables,omitempty"`
}

type ProcessResult struct {
	TableName        string        `json:"table_name"`
	BatchNumber      int           `json:"batch_number"`
	Operation        Operation     `json:"operation"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsApplied   int           `json:"records_applied"`
	AlreadyCompleted bool          `json:"already_completed"`
	Idle             bool          `json:"idle,omitempty"`
	Progress         BatchProgress `json:"progress"`
	NextBatch        *BatchRef     `json:"next_batch"`
}

type FinalizeResult struct {
	Success          bool  `json:"success"`
	AlreadyCompleted bool  `json:"already_completed"`
	NamesResolved    int   `json:"names_resolved"`
	NamesFound       int   `json:"names_found"`
	StagingCleaned   bool  `json:"staging_cleaned"`
	StagedPurged     int64 `json:"staged_rows_purged"`
}
