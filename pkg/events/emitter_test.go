package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(context.Context, *kafka.JobEvent) error {
	p.calls++
	return errors.New("broker unavailable")
}

func silent() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestEmitter_BatchCompleted(t *testing.T) {
	recorder := &Recorder{}
	emitter := NewEmitter(recorder, silent())
	job := &models.ImportJob{ID: uuid.New(), ExtractNumber: 140}

	emitter.BatchCompleted(context.Background(), job, &models.ProcessResult{
		TableName:   "activities",
		BatchNumber: 3,
		Operation:   models.OperationInsert,
		Progress:    models.BatchProgress{Completed: 3, Total: 4, Percentage: 75},
	})

	events := recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, BatchCompleted, events[0].EventType)
	assert.Equal(t, job.ID.String(), events[0].JobID)
	assert.Equal(t, 140, events[0].ExtractNumber)
	assert.Equal(t, "activities", events[0].TableName)
	assert.Equal(t, 3, events[0].BatchNumber)

	var progress models.BatchProgress
	require.NoError(t, json.Unmarshal(events[0].Data, &progress))
	assert.Equal(t, 75, progress.Percentage)
}

func TestEmitter_BatchFailedCarriesError(t *testing.T) {
	recorder := &Recorder{}
	job := &models.ImportJob{ID: uuid.New(), ExtractNumber: 140}
	ref := models.BatchRef{JobID: job.ID, TableName: "contacts", BatchNumber: 1, Operation: models.OperationDelete}

	NewEmitter(recorder, silent()).BatchFailed(context.Background(), job, ref, errors.New("deadlock detected"))

	events := recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "deadlock detected", events[0].Error)
	assert.Equal(t, "delete", events[0].Operation)
	assert.Nil(t, events[0].Data)
}

func TestEmitter_PublishFailureIsSwallowed(t *testing.T) {
	publisher := &failingPublisher{}
	emitter := NewEmitter(publisher, silent())

	assert.NotPanics(t, func() {
		emitter.JobFailed(context.Background(), &models.ImportJob{ID: uuid.New()}, "aborted")
	})
	assert.Equal(t, 1, publisher.calls)
}

func TestNewEmitter_NilPublisher(t *testing.T) {
	emitter := NewEmitter(nil, silent())
	assert.NotPanics(t, func() {
		emitter.JobPrepared(context.Background(), &models.ImportJob{ID: uuid.New()}, &models.PrepareResult{})
	})
}
