package planner

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Allocation is the batch split of one (table, operation) of a job.
type Allocation struct {
	Table     string
	Operation models.Operation
	Records   int
	Size      int
	Batches   int
}

// Plan sizes the batches for records rows of a table. Below the small-file threshold everything
// goes into a single batch; otherwise there are ceil(records/size) batches.
func (p Policy) Plan(table string, op models.Operation, records int) Allocation {
	a := Allocation{Table: table, Operation: op, Records: records}
	if records <= 0 {
		return a
	}

	if records < p.threshold {
		a.Size = records
		a.Batches = 1
		return a
	}

	a.Size = p.BatchSize(table)
	a.Batches = (records + a.Size - 1) / a.Size
	return a
}

// BatchNumber returns the 1-based batch of the row at the 0-based index.
func (a Allocation) BatchNumber(index int) int {
	if a.Size == 0 {
		return 0
	}
	n := index/a.Size + 1
	if n > a.Batches {
		return a.Batches
	}
	return n
}

// RecordCount is the number of rows in a batch; the last batch holds the remainder.
func (a Allocation) RecordCount(batch int) int {
	if batch < 1 || batch > a.Batches {
		return 0
	}
	if batch < a.Batches {
		return a.Size
	}
	return a.Records - a.Size*(a.Batches-1)
}

// Tracking returns one pending tracking record per batch.
func (a Allocation) Tracking(jobID uuid.UUID) []models.Batch {
	batches := make([]models.Batch, 0, a.Batches)
	for n := 1; n <= a.Batches; n++ {
		batches = append(batches, models.Batch{
			JobID:       jobID,
			TableName:   a.Table,
			BatchNumber: n,
			Operation:   a.Operation,
			Status:      models.BatchStatusPending,
			RecordCount: a.RecordCount(n),
		})
	}
	return batches
}
