// Package events emits import lifecycle events. Emission is best effort: failures are logged and
// never fail the import operation that triggered them.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	JobPrepared      = "job.prepared"
	JobCompleted     = "job.completed"
	JobFailed        = "job.failed"
	BatchCompleted   = "batch.completed"
	BatchFailed      = "batch.failed"
	BatchesReset     = "batches.reset"
	BatchesRecovered = "batches.recovered"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event *kafka.JobEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, *kafka.JobEvent) error { return nil }

type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	if publisher == nil {
		publisher = Noop{}
	}
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) emit(ctx context.Context, event *kafka.JobEvent, data any) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter."+event.EventType)
	defer span.End()

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Warnf("Failed to encode %s event", event.EventType)
			return
		}
		event.Data = raw
	}

	err := e.publisher.Publish(ctx, event)
	metrics.RecordPublish(err)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": event.EventType,
			"job_id":     event.JobID,
		}).Warn("Failed to emit event")
	}
}

func (e *Emitter) JobPrepared(ctx context.Context, job *models.ImportJob, result *models.PrepareResult) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     JobPrepared,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
	}, result)
}

func (e *Emitter) BatchCompleted(ctx context.Context, job *models.ImportJob, result *models.ProcessResult) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     BatchCompleted,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
		TableName:     result.TableName,
		BatchNumber:   result.BatchNumber,
		Operation:     string(result.Operation),
	}, result.Progress)
}

func (e *Emitter) BatchFailed(ctx context.Context, job *models.ImportJob, ref models.BatchRef, cause error) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     BatchFailed,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
		TableName:     ref.TableName,
		BatchNumber:   ref.BatchNumber,
		Operation:     string(ref.Operation),
		Error:         cause.Error(),
	}, nil)
}

// BatchesChanged reports an operator reset or a stale recovery.
func (e *Emitter) BatchesChanged(ctx context.Context, eventType string, job *models.ImportJob, count int64) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     eventType,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
	}, map[string]int64{"batches": count})
}

func (e *Emitter) JobCompleted(ctx context.Context, job *models.ImportJob, result *models.FinalizeResult) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     JobCompleted,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
	}, result)
}

func (e *Emitter) JobFailed(ctx context.Context, job *models.ImportJob, reason string) {
	e.emit(ctx, &kafka.JobEvent{
		EventType:     JobFailed,
		JobID:         job.ID.String(),
		ExtractNumber: job.ExtractNumber,
		Error:         reason,
	}, nil)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []kafka.JobEvent
}

func (r *Recorder) Publish(_ context.Context, event *kafka.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType
	}
	return types
}

func (r *Recorder) Events() []kafka.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.JobEvent(nil), r.events...)
}
