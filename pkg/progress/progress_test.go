package progress

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func batch(table string, number int, op models.Operation, status models.BatchStatus) models.Batch {
	return models.Batch{TableName: table, BatchNumber: number, Operation: op, Status: status}
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 0, Percentage(0, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 100, Percentage(3, 3))
	assert.Equal(t, 50, Percentage(1, 2))
}

func TestSummarize(t *testing.T) {
	job := &models.ImportJob{ID: uuid.New(), Status: models.JobStatusProcessing}
	batches := []models.Batch{
		batch("enterprises", 1, models.OperationInsert, models.BatchStatusPending),
		batch("activities", 2, models.OperationInsert, models.BatchStatusPending),
		batch("activities", 1, models.OperationInsert, models.BatchStatusCompleted),
		batch("activities", 1, models.OperationDelete, models.BatchStatusCompleted),
		batch("contacts", 1, models.OperationInsert, models.BatchStatusProcessing),
		batch("denominations", 1, models.OperationInsert, models.BatchStatusCompleted),
	}

	p := Summarize(job, batches)

	assert.Equal(t, models.OverallProgress{CompletedBatches: 3, TotalBatches: 6, Percentage: 50}, p.Overall)
	require.Len(t, p.Tables, 4)

	assert.Equal(t, models.TableProgress{TableName: "activities", Completed: 2, Total: 3, Status: models.TableStatusProcessing, Percentage: 67}, p.Tables[0])
	assert.Equal(t, models.TableStatusProcessing, p.Tables[1].Status)
	assert.Equal(t, models.TableStatusCompleted, p.Tables[2].Status)
	assert.Equal(t, models.TableStatusPending, p.Tables[3].Status)

	require.NotNil(t, p.CurrentBatch)
	assert.Equal(t, "contacts", p.CurrentBatch.TableName)
	require.NotNil(t, p.NextBatch)
	assert.Equal(t, models.BatchRef{TableName: "activities", BatchNumber: 2, Operation: models.OperationInsert}, *p.NextBatch)
	assert.False(t, p.ReadyToFinalize)

	sum := 0
	for _, tp := range p.Tables {
		sum += tp.Completed
	}
	assert.Equal(t, p.Overall.CompletedBatches, sum)
}

func TestSummarize_NoBatches(t *testing.T) {
	p := Summarize(&models.ImportJob{Status: models.JobStatusPending}, nil)

	assert.Equal(t, 0, p.Overall.Percentage)
	assert.Empty(t, p.Tables)
	assert.Nil(t, p.NextBatch)
	assert.True(t, p.ReadyToFinalize)
}

func TestSummarize_FailedBatches(t *testing.T) {
	p := Summarize(&models.ImportJob{Status: models.JobStatusProcessing}, []models.Batch{
		batch("branches", 1, models.OperationInsert, models.BatchStatusFailed),
		batch("branches", 2, models.OperationInsert, models.BatchStatusPending),
	})

	assert.Equal(t, 1, p.Overall.FailedBatches)
	assert.Equal(t, models.TableStatusProcessing, p.Tables[0].Status)
	assert.Equal(t, 2, p.NextBatch.BatchNumber)
	assert.False(t, p.ReadyToFinalize)
}

func TestSummarize_CompletedJobIsNotReady(t *testing.T) {
	p := Summarize(&models.ImportJob{Status: models.JobStatusCompleted}, []models.Batch{
		batch("branches", 1, models.OperationInsert, models.BatchStatusCompleted),
	})
	assert.Equal(t, 100, p.Overall.Percentage)
	assert.False(t, p.ReadyToFinalize)
}

func TestBatchAndOutstanding(t *testing.T) {
	batches := []models.Batch{
		batch("branches", 1, models.OperationInsert, models.BatchStatusCompleted),
		batch("branches", 2, models.OperationInsert, models.BatchStatusFailed),
		batch("branches", 3, models.OperationInsert, models.BatchStatusPending),
	}

	assert.Equal(t, models.BatchProgress{Completed: 1, Total: 3, Percentage: 33}, Batch(batches))
	assert.Equal(t, 2, Outstanding(batches))
}
