// Package progress summarizes a job's batch tracking records. Batch statuses are the only input.
package progress

import (
	"math"
	"sort"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Percentage is round(100 * completed / total), and 0 when there is nothing to do.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Summarize builds the progress read model of a job.
func Summarize(job *models.ImportJob, batches []models.Batch) *models.Progress {
	ordered := append([]models.Batch(nil), batches...)
	sort.SliceStable(ordered, func(i, j int) bool { return models.BatchBefore(ordered[i], ordered[j]) })

	p := &models.Progress{
		JobID:  job.ID,
		Status: job.Status,
		Tables: []models.TableProgress{},
	}

	byTable := map[string]*models.TableProgress{}
	var tableOrder []string
	processing := map[string]bool{}

	for _, b := range ordered {
		t, ok := byTable[b.TableName]
		if !ok {
			t = &models.TableProgress{TableName: b.TableName}
			byTable[b.TableName] = t
			tableOrder = append(tableOrder, b.TableName)
		}
		t.Total++

		switch b.Status {
		case models.BatchStatusCompleted:
			t.Completed++
		case models.BatchStatusFailed:
			t.Failed++
			processing[b.TableName] = true
		case models.BatchStatusProcessing:
			processing[b.TableName] = true
			if p.CurrentBatch == nil {
				ref := b.Ref()
				p.CurrentBatch = &ref
			}
		case models.BatchStatusPending:
			if p.NextBatch == nil {
				ref := b.Ref()
				p.NextBatch = &ref
			}
		}
	}

	for _, name := range tableOrder {
		t := byTable[name]
		switch {
		case t.Completed == t.Total:
			t.Status = models.TableStatusCompleted
		case t.Completed > 0 || processing[name]:
			t.Status = models.TableStatusProcessing
		default:
			t.Status = models.TableStatusPending
		}
		t.Percentage = Percentage(t.Completed, t.Total)

		p.Overall.CompletedBatches += t.Completed
		p.Overall.TotalBatches += t.Total
		p.Overall.FailedBatches += t.Failed
		p.Tables = append(p.Tables, *t)
	}
	p.Overall.Percentage = Percentage(p.Overall.CompletedBatches, p.Overall.TotalBatches)

	p.ReadyToFinalize = !job.Status.Terminal() && p.Overall.CompletedBatches == p.Overall.TotalBatches
	return p
}

// Batch is the compact progress figure attached to a processed batch.
func Batch(batches []models.Batch) models.BatchProgress {
	completed := len(ectolinq.Filter(batches, func(b models.Batch) bool {
		return b.Status == models.BatchStatusCompleted
	}))
	return models.BatchProgress{
		Completed:  completed,
		Total:      len(batches),
		Percentage: Percentage(completed, len(batches)),
	}
}

// Outstanding counts batches that are not completed.
func Outstanding(batches []models.Batch) int {
	return len(ectolinq.Filter(batches, func(b models.Batch) bool {
		return b.Status != models.BatchStatusCompleted
	}))
}
