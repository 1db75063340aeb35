package poller

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/internal/services/importer"
	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planner"
	"github.com/Ramsey-B/fern/pkg/redis"
)

const manifest = "Variable,Value\nSnapshotDate,03-10-2026\nExtractTimestamp,04-10-2026 07:30:12\nExtractType,update\nExtractNumber,140\nVersion,1.0.0\n"

func setup(t *testing.T) (*importer.Service, *memstore.Store, ectologger.Logger) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	mem := memstore.New()
	policy, err := planner.NewPolicy(map[string]int{"enterprises": 1}, 1000, 0)
	require.NoError(t, err)
	return importer.NewService(logger, mem.Repositories(), policy, nil), mem, logger
}

func prepare(t *testing.T, svc *importer.Service) *models.PrepareResult {
	t.Helper()
	pkg, err := archive.New(fstest.MapFS{
		"meta.csv":              {Data: []byte(manifest)},
		"enterprise_insert.csv": {Data: []byte("EnterpriseNumber\n0200.065.765\n0200.068.636\n0200.171.970\n")},
	}, nil)
	require.NoError(t, err)

	result, err := svc.Prepare(context.Background(), pkg, importer.PrepareOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalBatches)
	return result
}

func TestTick_DrivesJobToCompletion(t *testing.T) {
	svc, mem, logger := setup(t)
	prepared := prepare(t, svc)

	p := NewPoller(svc, nil, Config{AutoFinalize: true}, logger)
	p.Tick(context.Background())

	job, err := svc.GetJob(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, int64(3), job.RecordsInserted)
	assert.Len(t, mem.Versions("enterprises"), 3)
}

func TestTick_BoundedBatchesAndNoFinalize(t *testing.T) {
	svc, _, logger := setup(t)
	prepared := prepare(t, svc)

	p := NewPoller(svc, nil, Config{BatchesPerTick: 2}, logger)
	p.Tick(context.Background())

	progress, err := svc.GetProgress(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Overall.CompletedBatches)

	p.Tick(context.Background())
	progress, err = svc.GetProgress(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.True(t, progress.ReadyToFinalize)
	assert.Equal(t, models.JobStatusProcessing, progress.Status)
}

func TestTick_FailedBatchDoesNotBlockOthers(t *testing.T) {
	svc, mem, logger := setup(t)
	prepared := prepare(t, svc)

	mem.FailOn("temporal.insert", errors.New("constraint violation"))
	p := NewPoller(svc, nil, Config{AutoFinalize: true, BatchesPerTick: 1}, logger)
	p.Tick(context.Background())
	mem.ClearFaults()
	p.Tick(context.Background())

	progress, err := svc.GetProgress(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Overall.FailedBatches)
	assert.Equal(t, 1, progress.Overall.CompletedBatches)
	assert.False(t, progress.ReadyToFinalize)
}

func TestTick_SkipsLockedJobs(t *testing.T) {
	svc, _, logger := setup(t)
	prepared := prepare(t, svc)

	locker := NewLocalLocker()
	p := NewPoller(svc, locker, Config{AutoFinalize: true}, logger)

	err := locker.WithLock(context.Background(), LockKeyPrefix+prepared.JobID.String(), time.Minute, func(ctx context.Context) error {
		p.Tick(ctx)
		return nil
	})
	require.NoError(t, err)

	progress, err := svc.GetProgress(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.Zero(t, progress.Overall.CompletedBatches)
}

// lostLocker hands fn a context whose lock has already been lost.
type lostLocker struct{}

func (lostLocker) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	cancel(redis.ErrLockNotHeld)
	return fn(ctx)
}

func TestTick_StopsWhenLockIsLost(t *testing.T) {
	svc, _, logger := setup(t)
	prepared := prepare(t, svc)

	p := NewPoller(svc, lostLocker{}, Config{AutoFinalize: true}, logger)
	p.Tick(context.Background())

	progress, err := svc.GetProgress(context.Background(), prepared.JobID)
	require.NoError(t, err)
	assert.Zero(t, progress.Overall.CompletedBatches)
	assert.Equal(t, models.JobStatusPending, progress.Status)
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()

	err := locker.WithLock(context.Background(), "a", time.Minute, func(ctx context.Context) error {
		return locker.WithLock(ctx, "a", time.Minute, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	assert.NoError(t, locker.WithLock(context.Background(), "a", time.Minute, func(context.Context) error { return nil }))
}

func TestStartStop(t *testing.T) {
	svc, _, logger := setup(t)
	p := NewPoller(svc, nil, Config{PollInterval: time.Hour}, logger)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPollerAlreadyRunning)
	assert.True(t, p.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.False(t, p.IsRunning())
}
