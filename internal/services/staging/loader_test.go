package staging

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/memstore"
	"github.com/Ramsey-B/fern/pkg/archive"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/planner"
	"github.com/Ramsey-B/fern/pkg/registry"
)

const meta = "Variable,Value\nExtractNumber,140\n"

func newLoader(t *testing.T, policy planner.Policy) (*Loader, *memstore.Store) {
	t.Helper()
	mem := memstore.New()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewLoader(logger, mem.Repositories().Staging, policy), mem
}

func open(t *testing.T, files map[string]string) *archive.Package {
	t.Helper()
	fsys := fstest.MapFS{"meta.csv": {Data: []byte(meta)}}
	for name, data := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(data)}
	}
	p, err := archive.New(fsys, nil)
	require.NoError(t, err)
	return p
}

func TestLoad_StagesTablesAndPlansBatches(t *testing.T) {
	loader, mem := newLoader(t, planner.DefaultPolicy())
	jobID := uuid.New()

	pkg := open(t, map[string]string{
		"activity_delete.csv": "EntityNumber\n0200.065.765\n0200.068.636\n",
		"code.csv":            "Category,Code\nx,y\n",
		"unknown_insert.csv":  "A\n1\n",
		"activity_insert.csv": "EntityNumber,ActivityGroup,NaceVersion,NaceCode,Classification\n" +
			"0200.065.765,006,2008,84130,MAIN\n" +
			"0200.065.765,006,2008,84130,MAIN\n" +
			"2.000.000.339,001,2008,47111,SECO\n",
	})

	result, err := loader.Load(context.Background(), pkg, models.ExtractTypeUpdate, jobID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, map[string]int{"activities": 2}, result.BatchesByTable)
	assert.Equal(t, map[string]int{"activities": 4}, result.RecordsByTable)
	assert.Equal(t, []string{"code.csv", "unknown_insert.csv"}, result.Skipped)
	assert.Equal(t, 4, mem.StagedCount("activities", jobID))

	require.Len(t, result.Batches, 2)
	for _, b := range result.Batches {
		assert.Equal(t, jobID, b.JobID)
		assert.Equal(t, models.BatchStatusPending, b.Status)
		assert.Equal(t, 2, b.RecordCount)
	}
}

func TestLoad_FullExtractUsesPlainFiles(t *testing.T) {
	loader, mem := newLoader(t, planner.DefaultPolicy())
	jobID := uuid.New()

	pkg := open(t, map[string]string{
		"enterprise.csv": "EnterpriseNumber,Status\n0200.065.765,AC\n",
	})

	result, err := loader.Load(context.Background(), pkg, models.ExtractTypeFull, jobID)
	require.NoError(t, err)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 1, mem.StagedCount("enterprises", jobID))

	result, err = loader.Load(context.Background(), pkg, models.ExtractTypeUpdate, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"enterprise.csv"}, result.Skipped)
	assert.Empty(t, result.Batches)
}

func TestLoad_SplitsLargeTables(t *testing.T) {
	policy, err := planner.NewPolicy(map[string]int{"establishments": 3}, 1000, 5)
	require.NoError(t, err)
	loader, mem := newLoader(t, policy)
	jobID := uuid.New()

	var b strings.Builder
	b.WriteString("EstablishmentNumber,StartDate,EnterpriseNumber\n")
	for _, n := range []string{"2.000.000.1", "2.000.000.2", "2.000.000.3", "2.000.000.4", "2.000.000.5", "2.000.000.6", "2.000.000.7"} {
		b.WriteString(n + ",01-01-2020,0200.065.765\n")
	}

	result, err := loader.Load(context.Background(), open(t, map[string]string{"establishment_insert.csv": b.String()}), models.ExtractTypeUpdate, jobID)
	require.NoError(t, err)

	require.Len(t, result.Batches, 3)
	assert.Equal(t, []int{3, 3, 1}, []int{result.Batches[0].RecordCount, result.Batches[1].RecordCount, result.Batches[2].RecordCount})

	rows, err := mem.Repositories().Staging.ReadBatch(context.Background(), registry.Establishment, result.Batches[2].Ref())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 7, rows[0].RowNumber)
	assert.Equal(t, "2.000.000.7", rows[0].Record.Text("establishment_number"))
	assert.Equal(t, "2020-01-01", rows[0].Record.Text("start_date"))
}

func TestLoad_ReportsBadRows(t *testing.T) {
	loader, _ := newLoader(t, planner.DefaultPolicy())

	pkg := open(t, map[string]string{
		"branch_insert.csv": "Id,StartDate,EnterpriseNumber\n9.000.000.1,01-01-2020,0200.065.765\n9.000.000.2,2020-01-01,0200.065.765\n",
	})

	_, err := loader.Load(context.Background(), pkg, models.ExtractTypeUpdate, uuid.New())
	require.Error(t, err)

	var staging *fernerrors.StagingError
	require.ErrorAs(t, err, &staging)
	assert.Equal(t, "branch", staging.Table)
	assert.Equal(t, 3, staging.Row)
}

func TestLoad_MissingColumn(t *testing.T) {
	loader, _ := newLoader(t, planner.DefaultPolicy())

	_, err := loader.Load(context.Background(), open(t, map[string]string{
		"contact_insert.csv": "ContactType,Value\nEMAIL,a@b.be\n",
	}), models.ExtractTypeUpdate, uuid.New())
	require.Error(t, err)
	assert.True(t, fernerrors.IsStagingError(err))
	assert.True(t, fernerrors.IsValidationError(err))
}
