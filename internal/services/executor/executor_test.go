package executor

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/internal/repositories"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

type harness struct {
	mem   *memstore.Store
	store *repositories.Store
	exec  *Executor
	job   *models.ImportJob
}

func newHarness(t *testing.T, extractNumber int) *harness {
	t.Helper()
	mem := memstore.New()
	store := mem.Repositories()
	job := &models.ImportJob{
		ExtractNumber: extractNumber,
		ExtractType:   models.ExtractTypeUpdate,
		SnapshotDate:  time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC),
		Status:        models.JobStatusProcessing,
	}
	require.NoError(t, store.Jobs.Create(context.Background(), job))

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return &harness{mem: mem, store: store, exec: NewExecutor(logger, store), job: job}
}

// stage writes rows as batch 1 of the operation and registers the batch.
func (h *harness) stage(t *testing.T, table *registry.Table, op models.Operation, header []string, rows ...[]string) models.BatchRef {
	t.Helper()
	binding, err := table.Bind(header, op)
	require.NoError(t, err)

	staged := make([]registry.StagedRow, len(rows))
	for i, row := range rows {
		record, err := binding.Record(row)
		require.NoError(t, err)
		staged[i] = registry.StagedRow{RowNumber: i + 1, BatchNumber: 1, Operation: op, Record: record}
	}

	ctx := context.Background()
	require.NoError(t, h.store.Staging.Insert(ctx, table, h.job.ID, staged))
	batch := models.Batch{JobID: h.job.ID, TableName: table.StoreTable, BatchNumber: 1, Operation: op, Status: models.BatchStatusPending, RecordCount: len(rows)}
	require.NoError(t, h.store.Batches.CreateMany(ctx, []models.Batch{batch}))
	return batch.Ref()
}

func TestExecute_IdleWithoutPendingBatches(t *testing.T) {
	h := newHarness(t, 140)

	outcome, err := h.exec.Execute(context.Background(), h.job, Selector{})
	require.NoError(t, err)
	assert.True(t, outcome.Idle)
}

func TestExecute_LinkRowsCarryEntityType(t *testing.T) {
	h := newHarness(t, 140)
	header := []string{"EntityNumber", "ActivityGroup", "NaceVersion", "NaceCode", "Classification"}
	h.stage(t, registry.Activity, models.OperationInsert, header,
		[]string{"0200.065.765", "006", "2008", "84130", "MAIN"},
		[]string{"2.000.000.339", "001", "2008", "47111", "SECO"},
	)

	outcome, err := h.exec.Execute(context.Background(), h.job, Selector{})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.RecordsProcessed)
	assert.Equal(t, 2, outcome.RecordsApplied)
	assert.Equal(t, models.BatchStatusCompleted, outcome.Batch.Status)

	enterprise := h.mem.Current("activities", "0200.065.765_006_2008_84130_MAIN")
	require.Len(t, enterprise, 1)
	assert.Equal(t, models.EntityTypeEnterprise, enterprise[0].EntityType)
	assert.Equal(t, "2026-10-03", enterprise[0].SnapshotDate)

	establishment := h.mem.Current("activities", "2.000.000.339_001_2008_47111_SECO")
	require.Len(t, establishment, 1)
	assert.Equal(t, models.EntityTypeEstablishment, establishment[0].EntityType)
}

func TestExecute_DeleteHistorizesAllLinkRows(t *testing.T) {
	ctx := context.Background()
	header := []string{"EntityNumber", "ContactType", "EntityContact", "Value"}

	prev := newHarness(t, 140)
	prev.stage(t, registry.Contact, models.OperationInsert, header,
		[]string{"0200.065.765", "EMAIL", "ENT", "a@b.be"},
		[]string{"0200.065.765", "TEL", "ENT", "0470"},
		[]string{"0200.068.636", "TEL", "ENT", "0471"},
	)
	_, err := prev.exec.Execute(ctx, prev.job, Selector{})
	require.NoError(t, err)

	next := &models.ImportJob{ExtractNumber: 141, SnapshotDate: prev.job.SnapshotDate, Status: models.JobStatusProcessing}
	require.NoError(t, prev.store.Jobs.Create(ctx, next))
	prev.job = next
	prev.stage(t, registry.Contact, models.OperationDelete, []string{"EntityNumber"}, []string{"0200.065.765"})

	outcome, err := prev.exec.Execute(ctx, next, Selector{})
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.RecordsApplied)

	current := 0
	for _, v := range prev.mem.Versions("contacts") {
		if v.IsCurrent {
			current++
			assert.Equal(t, "0200.068.636", v.Record.Text("entity_number"))
			continue
		}
		require.NotNil(t, v.DeletedAtExtract)
		assert.Equal(t, 141, *v.DeletedAtExtract)
	}
	assert.Equal(t, 1, current)
}

func TestExecute_FailureLeavesBatchRetryable(t *testing.T) {
	h := newHarness(t, 140)
	ref := h.stage(t, registry.Enterprise, models.OperationInsert, []string{"EnterpriseNumber"}, []string{"0200.065.765"})
	ctx := context.Background()

	h.mem.FailOn("staging.processed", errors.New("connection reset"))
	_, err := h.exec.Execute(ctx, h.job, Selector{})
	require.Error(t, err)

	var execErr *fernerrors.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ref, execErr.Batch)

	batch, err := h.store.Batches.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	require.NotNil(t, batch.ErrorMessage)
	assert.Contains(t, *batch.ErrorMessage, "connection reset")
	assert.Empty(t, h.mem.Versions("enterprises"))

	// Next-batch selection skips failed batches; addressing one retries it.
	h.mem.ClearFaults()
	outcome, err := h.exec.Execute(ctx, h.job, Selector{})
	require.NoError(t, err)
	assert.True(t, outcome.Idle)

	outcome, err = h.exec.Execute(ctx, h.job, Selector{Table: "enterprise", BatchNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.RecordsApplied)
	assert.Equal(t, 2, outcome.Batch.Attempts)
}

func TestExecute_ProcessingBatchIsNotClaimedTwice(t *testing.T) {
	h := newHarness(t, 140)
	ref := h.stage(t, registry.Enterprise, models.OperationInsert, []string{"EnterpriseNumber"}, []string{"0200.065.765"})
	ctx := context.Background()

	claimed, err := h.store.Batches.Claim(ctx, ref, models.BatchStatusPending)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	again, err := h.store.Batches.Claim(ctx, ref, models.BatchStatusPending, models.BatchStatusFailed)
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = h.exec.Execute(ctx, h.job, Selector{Table: "enterprises", BatchNumber: 1})
	require.Error(t, err)
	assert.True(t, fernerrors.IsConflictError(err))

	outcome, err := h.exec.Execute(ctx, h.job, Selector{})
	require.NoError(t, err)
	assert.True(t, outcome.Idle)
}

func TestExecute_RejectsUnknownTable(t *testing.T) {
	h := newHarness(t, 140)

	_, err := h.exec.Execute(context.Background(), h.job, Selector{Table: "codes", BatchNumber: 1})
	require.Error(t, err)
	assert.True(t, fernerrors.IsValidationError(err))
}

func TestExecute_ReplacesCurrentVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 140)
	header := []string{"EnterpriseNumber", "Status"}
	h.stage(t, registry.Enterprise, models.OperationInsert, header, []string{"0200.065.765", "AC"})
	_, err := h.exec.Execute(ctx, h.job, Selector{})
	require.NoError(t, err)

	next := &models.ImportJob{ID: uuid.New(), ExtractNumber: 141, SnapshotDate: h.job.SnapshotDate.AddDate(0, 0, 7), Status: models.JobStatusProcessing}
	require.NoError(t, h.store.Jobs.Create(ctx, next))
	h.job = next
	h.stage(t, registry.Enterprise, models.OperationInsert, header, []string{"0200.065.765", "ST"})
	_, err = h.exec.Execute(ctx, next, Selector{})
	require.NoError(t, err)

	current := h.mem.Current("enterprises", "0200.065.765")
	require.Len(t, current, 1)
	assert.Equal(t, 141, current[0].ExtractNumber)
	assert.Equal(t, "ST", current[0].Record.Text("status"))
	assert.Equal(t, "2026-10-10", current[0].SnapshotDate)
	assert.Len(t, h.mem.Versions("enterprises"), 2)
}
