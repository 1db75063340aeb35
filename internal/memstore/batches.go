package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Batches struct {
	s *Store
}

func (r *Batches) CreateMany(ctx context.Context, batches []models.Batch) error {
	return r.s.do(ctx, "batches.create", func(st *state) error {
		for _, b := range batches {
			if _, ok := st.batches[b.Ref()]; ok {
				return fmt.Errorf("batch %s already exists", b.Ref())
			}
		}
		now := r.s.Now()
		for _, b := range batches {
			b.Status = models.BatchStatusPending
			b.CreatedAt, b.UpdatedAt = now, now
			st.batches[b.Ref()] = b
		}
		return nil
	})
}

func (r *Batches) Get(ctx context.Context, ref models.BatchRef) (*models.Batch, error) {
	var batch models.Batch
	err := r.s.do(ctx, "batches.get", func(st *state) error {
		b, ok := st.batches[ref]
		if !ok {
			return fernerrors.NotFound("batch %s of job %s does not exist", ref, ref.JobID)
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *Batches) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Batch, error) {
	batches := []models.Batch{}
	err := r.s.do(ctx, "batches.list", func(st *state) error {
		for _, b := range st.batches {
			if b.JobID == jobID {
				batches = append(batches, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(batches, func(i, j int) bool { return models.BatchBefore(batches[i], batches[j]) })
	return batches, nil
}

func (r *Batches) NextPending(ctx context.Context, jobID uuid.UUID) (*models.Batch, error) {
	batches, err := r.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	pending := ectolinq.Filter(batches, func(b models.Batch) bool { return b.Status == models.BatchStatusPending })
	if len(pending) == 0 {
		return nil, nil
	}
	return &pending[0], nil
}

func (r *Batches) Claim(ctx context.Context, ref models.BatchRef, from ...models.BatchStatus) (*models.Batch, error) {
	if len(from) == 0 {
		from = []models.BatchStatus{models.BatchStatusPending}
	}

	var claimed *models.Batch
	err := r.s.do(ctx, "batches.claim", func(st *state) error {
		b, ok := st.batches[ref]
		if !ok || !ectolinq.Contains(from, b.Status) {
			return nil
		}
		now := r.s.Now()
		b.Status = models.BatchStatusProcessing
		b.Attempts++
		b.ErrorMessage = nil
		b.StartedAt = &now
		b.UpdatedAt = now
		st.batches[ref] = b
		claimed = &b
		return nil
	})
	return claimed, err
}

func (r *Batches) Complete(ctx context.Context, ref models.BatchRef, applied int) error {
	return r.s.do(ctx, "batches.complete", func(st *state) error {
		b, ok := st.batches[ref]
		if !ok || b.Status != models.BatchStatusProcessing {
			return fmt.Errorf("batch %s is no longer processing", ref)
		}
		now := r.s.Now()
		b.Status = models.BatchStatusCompleted
		b.RecordsApplied = applied
		b.CompletedAt = &now
		b.UpdatedAt = now
		st.batches[ref] = b
		return nil
	})
}

func (r *Batches) Fail(ctx context.Context, ref models.BatchRef, message string) error {
	return r.s.do(ctx, "batches.fail", func(st *state) error {
		b, ok := st.batches[ref]
		if !ok || b.Status != models.BatchStatusProcessing {
			return nil
		}
		b.Status = models.BatchStatusFailed
		b.ErrorMessage = &message
		b.UpdatedAt = r.s.Now()
		st.batches[ref] = b
		return nil
	})
}

func (r *Batches) transition(ctx context.Context, op string, jobID uuid.UUID, match func(b models.Batch) bool, message *string) (int64, error) {
	var n int64
	err := r.s.do(ctx, op, func(st *state) error {
		for ref, b := range st.batches {
			if b.JobID != jobID || !match(b) {
				continue
			}
			b.Status = models.BatchStatusPending
			if message != nil {
				b.ErrorMessage = message
			}
			b.UpdatedAt = r.s.Now()
			st.batches[ref] = b
			n++
		}
		return nil
	})
	return n, err
}

func (r *Batches) ResetFailed(ctx context.Context, jobID uuid.UUID) (int64, error) {
	return r.transition(ctx, "batches.reset", jobID, func(b models.Batch) bool {
		return b.Status == models.BatchStatusFailed
	}, nil)
}

func (r *Batches) RevertStale(ctx context.Context, jobID uuid.UUID, olderThan time.Duration) (int64, error) {
	cutoff := r.s.Now().Add(-olderThan)
	message := "reverted after stalling in processing"
	return r.transition(ctx, "batches.revert", jobID, func(b models.Batch) bool {
		return b.Status == models.BatchStatusProcessing && b.StartedAt != nil && b.StartedAt.Before(cutoff)
	}, &message)
}
