package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is what a batch does to the temporal store.
type Operation string

const (
	OperationDelete Operation = "delete"
	OperationInsert Operation = "insert"
)

func (o Operation) Valid() bool {
	return o == OperationDelete || o == OperationInsert
}

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// BatchRef identifies one batch of a job.
type BatchRef struct {
	JobID       uuid.UUID `json:"job_id"`
	TableName   string    `json:"table_name"`
	BatchNumber int       `json:"batch_number"`
	Operation   Operation `json:"operation"`
}

func (r BatchRef) String() string {
	return fmt.Sprintf("%s/%d/%s", r.TableName, r.BatchNumber, r.Operation)
}

// Batch is the tracking record of one independently applicable slice of staged rows.
type Batch struct {
	JobID          uuid.UUID   `db:"job_id" json:"job_id"`
	TableName      string      `db:"table_name" json:"table_name"`
	BatchNumber    int         `db:"batch_number" json:"batch_number"`
	Operation      Operation   `db:"operation" json:"operation"`
	Status         BatchStatus `db:"status" json:"status"`
	RecordCount    int         `db:"record_count" json:"record_count"`
	RecordsApplied int         `db:"records_applied" json:"records_applied"`
	Attempts       int         `db:"attempts" json:"attempts"`
	ErrorMessage   *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
	StartedAt      *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

func (b Batch) Ref() BatchRef {
	return BatchRef{
		JobID:       b.JobID,
		TableName:   b.TableName,
		BatchNumber: b.BatchNumber,
		Operation:   b.Operation,
	}
}

// BatchBefore is the canonical processing order: table name, batch number, operation.
func BatchBefore(a, b Batch) bool {
	if a.TableName != b.TableName {
		return a.TableName < b.TableName
	}
	if a.BatchNumber != b.BatchNumber {
		return a.BatchNumber < b.BatchNumber
	}
	return a.Operation < b.Operation
}
