package memstore

import (
	"context"
	"sort"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Jobs struct {
	s *Store
}

func (r *Jobs) Create(ctx context.Context, job *models.ImportJob) error {
	return r.s.do(ctx, "jobs.create", func(st *state) error {
		if job.ID == uuid.Nil {
			job.ID = uuid.New()
		}
		if job.Status == "" {
			job.Status = models.JobStatusPending
		}
		now := r.s.Now()
		job.CreatedAt, job.UpdatedAt = now, now
		st.jobs[job.ID] = *job
		return nil
	})
}

func (r *Jobs) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	var job models.ImportJob
	err := r.s.do(ctx, "jobs.get", func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return fernerrors.NotFound("import job %s does not exist", id)
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Jobs) LatestActive(ctx context.Context) (*models.ImportJob, error) {
	var found *models.ImportJob
	err := r.s.do(ctx, "jobs.latest", func(st *state) error {
		for _, j := range st.jobs {
			if j.Status == models.JobStatusFailed {
				continue
			}
			if found == nil || j.ExtractNumber > found.ExtractNumber {
				job := j
				found = &job
			}
		}
		return nil
	})
	return found, err
}

func (r *Jobs) List(ctx context.Context, statuses []models.JobStatus, limit int) ([]models.ImportJob, error) {
	jobs := []models.ImportJob{}
	err := r.s.do(ctx, "jobs.list", func(st *state) error {
		for _, j := range st.jobs {
			if len(statuses) == 0 || ectolinq.Contains(statuses, j.Status) {
				jobs = append(jobs, j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ExtractNumber > jobs[k].ExtractNumber
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *Jobs) update(ctx context.Context, op string, id uuid.UUID, fn func(j *models.ImportJob)) error {
	return r.s.do(ctx, op, func(st *state) error {
		j, ok := st.jobs[id]
		if !ok {
			return fernerrors.NotFound("import job %s does not exist", id)
		}
		fn(&j)
		j.UpdatedAt = r.s.Now()
		st.jobs[id] = j
		return nil
	})
}

func (r *Jobs) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, "jobs.processing", id, func(j *models.ImportJob) {
		if j.Status != models.JobStatusPending {
			return
		}
		j.Status = models.JobStatusProcessing
		if j.StartedAt == nil {
			now := r.s.Now()
			j.StartedAt = &now
		}
	})
}

func (r *Jobs) Complete(ctx context.Context, id uuid.UUID, totals models.JobTotals) (bool, error) {
	var failed, completed bool
	err := r.update(ctx, "jobs.complete", id, func(j *models.ImportJob) {
		switch j.Status {
		case models.JobStatusFailed:
			failed = true
			return
		case models.JobStatusCompleted:
			return
		}
		completed = true
		now := r.s.Now()
		j.Status = models.JobStatusCompleted
		j.RecordsProcessed = totals.Processed
		j.RecordsInserted = totals.Inserted
		j.RecordsDeleted = totals.Deleted
		j.NamesResolved = totals.NamesResolved
		j.ErrorMessage = nil
		j.CompletedAt = &now
	})
	if err != nil {
		return false, err
	}
	if failed {
		return false, fernerrors.NewConflictError("job %s has failed and cannot be completed", id)
	}
	return completed, nil
}

func (r *Jobs) Fail(ctx context.Context, id uuid.UUID, message string) error {
	return r.update(ctx, "jobs.fail", id, func(j *models.ImportJob) {
		if j.Status == models.JobStatusCompleted {
			return
		}
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &message
	})
}
