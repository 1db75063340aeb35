package repositories

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Postgres caps a statement at 65535 bind parameters.
const maxBindParams = 60000

var stagingMetaColumns = []string{"job_id", "row_number", "batch_number", "operation", "processed"}

// StagingRepository handles the per-table staging areas
type StagingRepository struct {
	*Repository
}

func NewStagingRepository(db database.DB, logger ectologger.Logger) *StagingRepository {
	return &StagingRepository{Repository: NewRepository(db, logger)}
}

// Insert writes rows in chunks; every value is bound as a parameter.
func (r *StagingRepository) Insert(ctx context.Context, table *registry.Table, jobID uuid.UUID, rows []registry.StagedRow) error {
	ctx, span := tracing.StartSpan(ctx, "StagingRepository.Insert")
	defer span.End()

	columns := append(append([]string{}, stagingMetaColumns...), table.Columns()...)
	chunk := max(1, maxBindParams/len(columns))

	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		ib := database.NewInsertBuilder()
		ib.InsertInto(table.StagingTable).Cols(columns...)
		for _, row := range rows[start:end] {
			values := make([]any, 0, len(columns))
			values = append(values, jobID, row.RowNumber, row.BatchNumber, row.Operation, false)
			values = append(values, row.Record.Values()...)
			ib.Values(values...)
		}

		query, args := ib.Build()
		if _, err := r.DB(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"job_id": jobID,
				"table":  table.StoreTable,
				"rows":   end - start,
			}).Error("failed to stage rows")
			return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to stage %s rows", table.Name)
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": jobID,
		"rows":   len(rows),
	}).Debugf("Staged %s", table.StagingTable)
	return nil
}

func (r *StagingRepository) ReadBatch(ctx context.Context, table *registry.Table, ref models.BatchRef) ([]registry.StagedRow, error) {
	ctx, span := tracing.StartSpan(ctx, "StagingRepository.ReadBatch")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(append([]string{"row_number"}, table.Columns()...)...).
		From(table.StagingTable).
		Where(
			sb.Equal("job_id", ref.JobID),
			sb.Equal("batch_number", ref.BatchNumber),
			sb.Equal("operation", ref.Operation),
			"NOT processed",
		).
		OrderBy("row_number")

	query, args := sb.Build()
	rows, err := r.DB(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to read staged batch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read staged batch")
	}
	defer rows.Close()

	var staged []registry.StagedRow
	for rows.Next() {
		row, err := scanStaged(rows, table)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to scan staged row")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read staged batch")
		}
		row.BatchNumber = ref.BatchNumber
		row.Operation = ref.Operation
		staged = append(staged, row)
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to iterate staged rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read staged batch")
	}
	return staged, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStaged(rows rowScanner, table *registry.Table) (registry.StagedRow, error) {
	texts := make([]sql.NullString, len(table.Fields))
	dates := make([]sql.NullTime, len(table.Fields))

	var row registry.StagedRow
	dest := []any{&row.RowNumber}
	for i, f := range table.Fields {
		if f.Type == registry.FieldDate {
			dest = append(dest, &dates[i])
		} else {
			dest = append(dest, &texts[i])
		}
	}
	if err := rows.Scan(dest...); err != nil {
		return row, err
	}

	values := make([]any, len(table.Fields))
	for i, f := range table.Fields {
		switch {
		case f.Type == registry.FieldDate && dates[i].Valid:
			values[i] = dates[i].Time.UTC()
		case f.Type != registry.FieldDate && texts[i].Valid:
			values[i] = texts[i].String
		}
	}
	row.Record = registry.NewRecord(table, values)
	return row, nil
}

func (r *StagingRepository) MarkProcessed(ctx context.Context, table *registry.Table, ref models.BatchRef) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "StagingRepository.MarkProcessed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(table.StagingTable).
		Set("processed = TRUE").
		Where(
			ub.Equal("job_id", ref.JobID),
			ub.Equal("batch_number", ref.BatchNumber),
			ub.Equal("operation", ref.Operation),
			"NOT processed",
		)

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("batch", ref.String()).Error("failed to mark staged rows processed")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark staged rows processed")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *StagingRepository) Purge(ctx context.Context, table *registry.Table, jobID uuid.UUID) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "StagingRepository.Purge")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(table.StagingTable).Where(db.Equal("job_id", jobID))

	query, args := db.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"job_id": jobID,
			"table":  table.StagingTable,
		}).Error("failed to purge staging")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to purge %s", table.StagingTable)
	}

	n, _ := res.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id": jobID,
		"rows":   n,
	}).Debugf("Purged %s", table.StagingTable)
	return n, nil
}
