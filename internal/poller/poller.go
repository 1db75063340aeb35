// Package poller drives prepared jobs to completion in the background: it recovers stalled batches,
// applies pending ones and finalizes jobs whose batches are all done.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/services/executor"
	appctx "github.com/Ramsey-B/fern/pkg/context"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrPollerAlreadyRunning = errors.New("poller already running")

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultLockTTL        = 5 * time.Minute
	DefaultStaleAfter     = 15 * time.Minute
	DefaultBatchesPerTick = 50
	DefaultJobsPerTick    = 20

	LockKeyPrefix = "poller:job:"
)

// Importer is the part of the import service the poller drives.
type Importer interface {
	ListJobs(ctx context.Context, statuses []models.JobStatus, limit int) ([]models.ImportJob, error)
	RecoverStale(ctx context.Context, jobID uuid.UUID, olderThan time.Duration) (int64, error)
	ProcessBatch(ctx context.Context, jobID uuid.UUID, sel executor.Selector) (*models.ProcessResult, error)
	GetProgress(ctx context.Context, jobID uuid.UUID) (*models.Progress, error)
	Finalize(ctx context.Context, jobID uuid.UUID) (*models.FinalizeResult, error)
}

// Locker serializes work on one job across poller instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	// StaleAfter is how long a batch may stay processing before it is put back to pending.
	StaleAfter     time.Duration
	BatchesPerTick int
	JobsPerTick    int
	AutoFinalize   bool
	WorkerID       string
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		LockTTL:        DefaultLockTTL,
		StaleAfter:     DefaultStaleAfter,
		BatchesPerTick: DefaultBatchesPerTick,
		JobsPerTick:    DefaultJobsPerTick,
		AutoFinalize:   true,
	}
}

type Poller struct {
	importer Importer
	locker   Locker
	config   Config
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

func NewPoller(importer Importer, locker Locker, config Config, logger ectologger.Logger) *Poller {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.BatchesPerTick <= 0 {
		config.BatchesPerTick = defaults.BatchesPerTick
	}
	if config.JobsPerTick <= 0 {
		config.JobsPerTick = defaults.JobsPerTick
	}
	if locker == nil {
		locker = NewLocalLocker()
	}

	return &Poller{
		importer: importer,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

func (p *Poller) GetName() string {
	return "poller"
}

func (p *Poller) DependsOn() []string {
	return []string{"database"}
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithContext(ctx).Infof("Starting poller: poll_interval=%s batches_per_tick=%d auto_finalize=%t",
		p.config.PollInterval, p.config.BatchesPerTick, p.config.AutoFinalize)

	go p.loop(context.WithoutCancel(ctx))
	return nil
}

// Stop waits for the running tick to finish or ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Poller stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Poller shutdown timed out")
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.stoppedC)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.Tick(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one polling cycle over the unfinished jobs.
func (p *Poller) Tick(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Poller.Tick")
	defer span.End()
	if p.config.WorkerID != "" {
		ctx = appctx.SetWorkerID(ctx, p.config.WorkerID)
	}

	jobs, err := p.importer.ListJobs(ctx, []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}, p.config.JobsPerTick)
	if err != nil {
		metrics.PollerTicks.WithLabelValues("error").Inc()
		p.logger.WithContext(ctx).WithError(err).Error("Failed to list unfinished jobs")
		return
	}
	if len(jobs) == 0 {
		metrics.PollerTicks.WithLabelValues("idle").Inc()
		return
	}

	for _, job := range jobs {
		err := p.locker.WithLock(ctx, LockKeyPrefix+job.ID.String(), p.config.LockTTL, func(ctx context.Context) error {
			return p.drive(ctx, job.ID)
		})
		switch {
		case err == nil:
			metrics.PollerTicks.WithLabelValues("worked").Inc()
		case errors.Is(err, redis.ErrLockNotAcquired):
			metrics.PollerTicks.WithLabelValues("locked").Inc()
		default:
			metrics.PollerTicks.WithLabelValues("error").Inc()
			p.logger.WithContext(ctx).WithError(err).WithField("job_id", job.ID).Warn("Failed to drive import job")
		}
	}
}

// drive recovers, processes and finalizes one job.
func (p *Poller) drive(ctx context.Context, jobID uuid.UUID) error {
	ctx = appctx.SetJobID(ctx, jobID.String())
	logger := p.logger.WithContext(ctx).WithField("job_id", jobID)

	if reverted, err := p.importer.RecoverStale(ctx, jobID, p.config.StaleAfter); err != nil {
		return err
	} else if reverted > 0 {
		logger.Warnf("Reverted %d stalled batches", reverted)
	}

	processed := 0
	for processed < p.config.BatchesPerTick {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		result, err := p.importer.ProcessBatch(ctx, jobID, executor.Selector{})
		if fernerrors.IsExecutionError(err) {
			// The batch is failed and waits for an operator retry; keep going with the others.
			processed++
			continue
		}
		if err != nil {
			return err
		}
		if result.Idle {
			break
		}
		processed++
	}

	if !p.config.AutoFinalize {
		return nil
	}
	progress, err := p.importer.GetProgress(ctx, jobID)
	if err != nil {
		return err
	}
	if !progress.ReadyToFinalize {
		return nil
	}

	result, err := p.importer.Finalize(ctx, jobID)
	if err != nil {
		return err
	}
	logger.Infof("Finalized import job: names_resolved=%d names_found=%d", result.NamesResolved, result.NamesFound)
	return nil
}
