package importer

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/internal/services/executor"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planner"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// startPostgres runs a throwaway Postgres, applies the migrations and returns a connected handle.
func startPostgres(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()
	logger := getTestLogger()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "user",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "fern",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Host:     host,
		Port:     port.Port(),
		User:     "user",
		Password: "password",
		Name:     "fern",
		SSLMode:  "disable",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ms := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../../db/pg"})
	require.NoError(t, ms.MigratePostgres(db, "fern"))
	return db
}

func countRows(t *testing.T, db database.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, query, args...))
	return n
}

func TestService_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := startPostgres(t)
	logger := getTestLogger()
	recorder := &events.Recorder{}
	store := repositories.NewStore(db, logger)
	svc := NewService(logger, store, planner.DefaultPolicy(), events.NewEmitter(recorder, logger))
	ctx := context.Background()

	drainPG := func(jobID uuid.UUID) {
		for i := 0; i < 100; i++ {
			res, err := svc.ProcessBatch(ctx, jobID, executor.Selector{})
			require.NoError(t, err)
			if res.Idle {
				return
			}
		}
		t.Fatal("job never drained")
	}

	first, err := svc.Prepare(ctx, newPackage(t, map[string]string{
		"meta.csv":              manifest(140, "update"),
		"enterprise_insert.csv": enterprises(entA, entB, entC),
		"denomination_insert.csv": "EntityNumber,Language,TypeOfDenomination,Denomination\n" +
			entA + ",1,001,Société Anonyme\n" +
			entA + ",2,001,Naamloze Vennootschap\n",
	}), PrepareOptions{WorkerID: "it"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalBatches)
	assert.Equal(t, 3, countRows(t, db, "SELECT COUNT(*) FROM staging_enterprises WHERE job_id = $1", first.JobID))

	// Finalize before any batch ran is refused.
	_, err = svc.Finalize(ctx, first.JobID)
	require.Error(t, err)

	drainPG(first.JobID)

	progress, err := svc.GetProgress(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.Overall.Percentage)
	assert.True(t, progress.ReadyToFinalize)

	final, err := svc.Finalize(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.NamesResolved)
	assert.Equal(t, 1, final.NamesFound)
	assert.True(t, final.StagingCleaned)
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM staging_enterprises WHERE job_id = $1", first.JobID))

	var name models.PrimaryName
	require.NoError(t, db.GetContext(ctx, &name,
		"SELECT enterprise_number, primary_name, primary_name_language FROM enterprises WHERE enterprise_number = $1 AND is_current", entA))
	assert.Equal(t, "Naamloze Vennootschap", name.Name)
	require.NotNil(t, name.Language)
	assert.Equal(t, "2", *name.Language)

	job, err := svc.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.EqualValues(t, 5, job.RecordsInserted)

	// A late second completion changes nothing.
	completed, err := store.Jobs.Complete(ctx, first.JobID, models.JobTotals{})
	require.NoError(t, err)
	assert.False(t, completed)
	job, err = svc.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, job.NamesResolved)

	// The same extract cannot be imported twice.
	_, err = svc.Prepare(ctx, newPackage(t, map[string]string{
		"meta.csv":              manifest(140, "update"),
		"enterprise_insert.csv": enterprises(entA),
	}), PrepareOptions{})
	require.Error(t, err)

	second, err := svc.Prepare(ctx, newPackage(t, map[string]string{
		"meta.csv":              manifest(141, "update"),
		"enterprise_delete.csv": "EnterpriseNumber\n" + entA + "\n" + entB + "\n",
		"enterprise_insert.csv": enterprises(entA),
	}), PrepareOptions{})
	require.NoError(t, err)
	drainPG(second.JobID)

	final, err = svc.Finalize(ctx, second.JobID)
	require.NoError(t, err)
	assert.True(t, final.Success)

	assert.Equal(t, 4, countRows(t, db, "SELECT COUNT(*) FROM enterprises"))
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM enterprises WHERE is_current"))
	assert.Equal(t, 0, countRows(t, db, "SELECT COUNT(*) FROM enterprises WHERE enterprise_number = $1 AND is_current", entB))
	assert.Equal(t, 2, countRows(t, db, "SELECT COUNT(*) FROM enterprises WHERE deleted_at_extract = 141"))

	// An older extract can no longer be applied.
	_, err = svc.Prepare(ctx, newPackage(t, map[string]string{
		"meta.csv":              manifest(139, "update"),
		"enterprise_insert.csv": enterprises(entB),
	}), PrepareOptions{})
	require.Error(t, err)

	// The carried-over name survives into the new version.
	require.NoError(t, db.GetContext(ctx, &name,
		"SELECT enterprise_number, primary_name, primary_name_language FROM enterprises WHERE enterprise_number = $1 AND is_current", entA))
	assert.Equal(t, "Naamloze Vennootschap", name.Name)
	assert.Equal(t, 141, countRows(t, db, "SELECT extract_number FROM enterprises WHERE enterprise_number = $1 AND is_current", entA))
}
