package finalizer

import (
	"context"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/internal/repositories"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

const (
	entA = "0200.065.765"
	entB = "0200.068.636"
)

func setup(t *testing.T, batches ...models.Batch) (*Finalizer, *repositories.Store, *models.ImportJob) {
	t.Helper()
	f, _, store, job := setupMem(t, batches...)
	return f, store, job
}

func setupMem(t *testing.T, batches ...models.Batch) (*Finalizer, *memstore.Store, *repositories.Store, *models.ImportJob) {
	t.Helper()
	ctx := context.Background()
	mem := memstore.New()
	store := mem.Repositories()

	job := &models.ImportJob{ExtractNumber: 140, Status: models.JobStatusProcessing}
	require.NoError(t, store.Jobs.Create(ctx, job))
	for i := range batches {
		batches[i].JobID = job.ID
	}
	if len(batches) > 0 {
		require.NoError(t, store.Batches.CreateMany(ctx, batches))
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewFinalizer(logger, store), mem, store, job
}

// seedExtract writes the extract's current enterprises with placeholder names, a legal name for entA
// and one staged row for the job.
func seedExtract(t *testing.T, store *repositories.Store, job *models.ImportJob) {
	t.Helper()
	ctx := context.Background()
	version := models.Version{SnapshotDate: "2026-10-03", ExtractNumber: job.ExtractNumber}

	keys, err := registry.Enterprise.Bind([]string{"EnterpriseNumber"}, models.OperationDelete)
	require.NoError(t, err)
	var rows []registry.VersionedRow
	for _, number := range []string{entA, entB} {
		record, err := keys.Record([]string{number})
		require.NoError(t, err)
		rows = append(rows, registry.VersionedRow{Identity: number, Record: record})
	}
	_, err = store.Temporal.Insert(ctx, registry.Enterprise, rows, version)
	require.NoError(t, err)

	names, err := registry.Denomination.Bind([]string{"EntityNumber", "Language", "TypeOfDenomination", "Denomination"}, models.OperationInsert)
	require.NoError(t, err)
	legal, err := names.Record([]string{entA, "2", registry.LegalNameType, "Naamloze Vennootschap"})
	require.NoError(t, err)
	_, err = store.Temporal.Insert(ctx, registry.Denomination, []registry.VersionedRow{
		{Identity: entA + "_001_2", EntityType: models.EntityTypeEnterprise, Record: legal},
	}, version)
	require.NoError(t, err)

	require.NoError(t, store.Staging.Insert(ctx, registry.Enterprise, job.ID, []registry.StagedRow{
		{RowNumber: 1, BatchNumber: 1, Operation: models.OperationDelete, Record: rows[0].Record},
	}))
}

func TestTotals(t *testing.T) {
	totals := Totals([]models.Batch{
		{Operation: models.OperationInsert, RecordCount: 10, RecordsApplied: 9},
		{Operation: models.OperationInsert, RecordCount: 5, RecordsApplied: 5},
		{Operation: models.OperationDelete, RecordCount: 4, RecordsApplied: 7},
	})

	assert.Equal(t, models.JobTotals{Processed: 19, Inserted: 14, Deleted: 7}, totals)
}

func TestFinalize_RequiresCompletedBatches(t *testing.T) {
	f, store, job := setup(t,
		models.Batch{TableName: "enterprises", BatchNumber: 1, Operation: models.OperationInsert, Status: models.BatchStatusCompleted, RecordCount: 2},
		models.Batch{TableName: "enterprises", BatchNumber: 2, Operation: models.OperationInsert, Status: models.BatchStatusPending, RecordCount: 2},
		models.Batch{TableName: "contacts", BatchNumber: 1, Operation: models.OperationDelete, Status: models.BatchStatusFailed, RecordCount: 1},
	)

	_, err := f.Finalize(context.Background(), job)
	require.Error(t, err)

	var precondition *fernerrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, 2, precondition.Outstanding)

	stored, err := store.Jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, stored.Status)
}

func TestFinalize_RefusedLeavesStagingAndNamesUntouched(t *testing.T) {
	f, mem, store, job := setupMem(t,
		models.Batch{TableName: "enterprises", BatchNumber: 1, Operation: models.OperationDelete, Status: models.BatchStatusCompleted, RecordCount: 1},
		models.Batch{TableName: "denominations", BatchNumber: 1, Operation: models.OperationInsert, Status: models.BatchStatusProcessing, RecordCount: 1},
	)
	seedExtract(t, store, job)

	_, err := f.Finalize(context.Background(), job)
	require.Error(t, err)
	assert.True(t, fernerrors.IsPreconditionError(err))

	assert.Equal(t, 1, mem.StagedCount("enterprises", job.ID))
	current := mem.Current("enterprises", entA)
	require.Len(t, current, 1)
	assert.Equal(t, entA, current[0].PrimaryName)
	assert.Nil(t, current[0].NameLanguage)
}

func TestFinalize_StaleSnapshotDoesNotCompleteTwice(t *testing.T) {
	f, mem, store, job := setupMem(t,
		models.Batch{TableName: "enterprises", BatchNumber: 1, Operation: models.OperationDelete, Status: models.BatchStatusCompleted, RecordCount: 1},
	)
	seedExtract(t, store, job)
	ctx := context.Background()
	snapshot := *job

	first, err := f.Finalize(ctx, job)
	require.NoError(t, err)
	assert.False(t, first.AlreadyCompleted)
	assert.Equal(t, 2, first.NamesResolved)
	assert.Equal(t, 1, first.NamesFound)

	// Same pre-completion snapshot: only entB is still a placeholder now.
	second, err := f.Finalize(ctx, &snapshot)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, 2, second.NamesResolved)

	stored, err := store.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.NamesResolved)
	assert.Equal(t, "Naamloze Vennootschap", mem.Current("enterprises", entA)[0].PrimaryName)
}

func TestFinalize_ConcurrentCallersCompleteOnce(t *testing.T) {
	f, _, store, job := setupMem(t,
		models.Batch{TableName: "enterprises", BatchNumber: 1, Operation: models.OperationDelete, Status: models.BatchStatusCompleted, RecordCount: 1},
	)
	seedExtract(t, store, job)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.FinalizeResult, 2)
	errs := make([]error, 2)
	for i := range results {
		snapshot := *job
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Finalize(ctx, &snapshot)
		}(i)
	}
	wg.Wait()

	completed := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, results[i].NamesResolved)
		if !results[i].AlreadyCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	stored, err := store.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.NamesResolved)
}

func TestFinalize_AbortedMeanwhile(t *testing.T) {
	f, _, store, job := setupMem(t)
	require.NoError(t, store.Jobs.Fail(context.Background(), job.ID, "aborted"))

	// The caller still holds the processing snapshot.
	_, err := f.Finalize(context.Background(), job)
	require.Error(t, err)
	assert.True(t, fernerrors.IsConflictError(err))
}

func TestFinalize_EmptyJob(t *testing.T) {
	f, store, job := setup(t)

	result, err := f.Finalize(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.NamesResolved)

	stored, err := store.Jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestFinalize_PurgesStaging(t *testing.T) {
	mem := memstore.New()
	store := mem.Repositories()
	ctx := context.Background()

	job := &models.ImportJob{ExtractNumber: 140, Status: models.JobStatusProcessing}
	require.NoError(t, store.Jobs.Create(ctx, job))

	binding, err := registry.Enterprise.Bind([]string{"EnterpriseNumber"}, models.OperationDelete)
	require.NoError(t, err)
	record, err := binding.Record([]string{"0200.065.765"})
	require.NoError(t, err)
	require.NoError(t, store.Staging.Insert(ctx, registry.Enterprise, job.ID, []registry.StagedRow{
		{RowNumber: 1, BatchNumber: 1, Operation: models.OperationDelete, Record: record},
	}))
	other := uuid.New()
	require.NoError(t, store.Staging.Insert(ctx, registry.Enterprise, other, []registry.StagedRow{
		{RowNumber: 1, BatchNumber: 1, Operation: models.OperationDelete, Record: record},
	}))

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	result, err := NewFinalizer(logger, store).Finalize(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.StagedPurged)
	assert.Zero(t, mem.StagedCount("enterprises", job.ID))
	assert.Equal(t, 1, mem.StagedCount("enterprises", other))
}

func TestFinalize_FailedJob(t *testing.T) {
	f, _, job := setup(t)
	job.Status = models.JobStatusFailed

	_, err := f.Finalize(context.Background(), job)
	require.Error(t, err)
	assert.True(t, fernerrors.IsConflictError(err))
}
