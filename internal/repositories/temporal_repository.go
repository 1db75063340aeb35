package repositories

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	priorNamesQuery = `
		SELECT DISTINCT ON (enterprise_number) enterprise_number, primary_name, primary_name_language
		FROM enterprises
		WHERE enterprise_number = ANY($1)
		  AND extract_number < $2
		  AND primary_name <> enterprise_number
		ORDER BY enterprise_number, extract_number DESC`

	unresolvedQuery = `
		SELECT enterprise_number
		FROM enterprises
		WHERE is_current
		  AND extract_number = $1
		  AND primary_name = enterprise_number
		ORDER BY enterprise_number`

	legalNamesQuery = `
		SELECT entity_number, COALESCE(language, '') AS language, COALESCE(denomination, '') AS denomination
		FROM denominations
		WHERE is_current
		  AND type_of_denomination = $1
		  AND entity_number = ANY($2)`

	setPrimaryNamesQuery = `
		UPDATE enterprises AS e
		SET primary_name = v.name, primary_name_language = NULLIF(v.language, '')
		FROM unnest($1::text[], $2::text[], $3::text[]) AS v(enterprise_number, name, language)
		WHERE e.enterprise_number = v.enterprise_number
		  AND e.is_current
		  AND e.extract_number = $4`
)

// TemporalRepository reads and writes the versioned registry tables
type TemporalRepository struct {
	*Repository
}

func NewTemporalRepository(db database.DB, logger ectologger.Logger) *TemporalRepository {
	return &TemporalRepository{Repository: NewRepository(db, logger)}
}

func (r *TemporalRepository) Historize(ctx context.Context, table *registry.Table, column string, keys []string, extractNumber int) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.Historize")
	defer span.End()

	if len(keys) == 0 {
		return 0, nil
	}
	if column != table.IdentityColumn && column != table.DeleteColumn {
		return 0, fmt.Errorf("%s cannot be historized by %s", table.StoreTable, column)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table.StoreTable).
		Set(
			"is_current = FALSE",
			ub.Assign("deleted_at_extract", extractNumber),
		).
		Where(
			fmt.Sprintf("%s = ANY(%s)", column, ub.Var(pq.Array(keys))),
			"is_current",
			ub.LessThan("extract_number", extractNumber),
		)

	query, args := ub.Build()
	res, err := r.DB(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"table":  table.StoreTable,
			"keys":   len(keys),
			"column": column,
		}).Error("failed to historize rows")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to historize %s", table.StoreTable)
	}

	n, _ := res.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"table":      table.StoreTable,
		"historized": n,
	}).Debug("historized rows")
	return n, nil
}

// temporalColumns is the insert column list of a store table.
func temporalColumns(table *registry.Table) []string {
	var columns []string
	if table.Kind == registry.KindLink {
		columns = append(columns, "id", "entity_type")
	}
	columns = append(columns, table.Columns()...)
	if table.IsEnterprise() {
		columns = append(columns, "primary_name", "primary_name_language")
	}
	return append(columns, "snapshot_date", "extract_number", "is_current")
}

func (r *TemporalRepository) Insert(ctx context.Context, table *registry.Table, rows []registry.VersionedRow, version models.Version) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.Insert")
	defer span.End()

	if len(rows) == 0 {
		return 0, nil
	}

	columns := temporalColumns(table)
	chunk := max(1, maxBindParams/len(columns))

	var inserted int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		ib := database.NewInsertBuilder()
		ib.InsertInto(table.StoreTable).Cols(columns...)
		for _, row := range rows[start:end] {
			ib.Values(temporalValues(table, row, version)...)
		}
		ib.OnConflictDoNothing(table.IdentityColumn, "extract_number")

		query, args := ib.Build()
		res, err := r.DB(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"table": table.StoreTable,
				"rows":  end - start,
			}).Error("failed to insert versioned rows")
			return inserted, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to insert %s", table.StoreTable)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"table":    table.StoreTable,
		"inserted": inserted,
		"skipped":  int64(len(rows)) - inserted,
	}).Debug("inserted versioned rows")
	return inserted, nil
}

func temporalValues(table *registry.Table, row registry.VersionedRow, version models.Version) []any {
	var values []any
	if table.Kind == registry.KindLink {
		values = append(values, row.Identity, row.EntityType)
	}
	values = append(values, row.Record.Values()...)
	if table.IsEnterprise() {
		name := models.PrimaryName{Name: row.Identity}
		if row.PrimaryName != nil {
			name = *row.PrimaryName
		}
		values = append(values, name.Name, name.Language)
	}
	return append(values, version.SnapshotDate, version.ExtractNumber, true)
}

func (r *TemporalRepository) PriorNames(ctx context.Context, enterpriseNumbers []string, extractNumber int) (map[string]models.PrimaryName, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.PriorNames")
	defer span.End()

	names := map[string]models.PrimaryName{}
	if len(enterpriseNumbers) == 0 {
		return names, nil
	}

	var rows []models.PrimaryName
	if err := r.DB(ctx).SelectContext(ctx, &rows, priorNamesQuery, pq.Array(enterpriseNumbers), extractNumber); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to read prior primary names")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read prior primary names")
	}
	for _, row := range rows {
		names[row.EnterpriseNumber] = row
	}
	return names, nil
}

func (r *TemporalRepository) UnresolvedEnterprises(ctx context.Context, extractNumber int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.UnresolvedEnterprises")
	defer span.End()

	numbers := []string{}
	if err := r.DB(ctx).SelectContext(ctx, &numbers, unresolvedQuery, extractNumber); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("extract_number", extractNumber).Error("failed to list unresolved enterprises")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unresolved enterprises")
	}
	return numbers, nil
}

func (r *TemporalRepository) LegalNames(ctx context.Context, entityNumbers []string) ([]models.LegalName, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.LegalNames")
	defer span.End()

	names := []models.LegalName{}
	if len(entityNumbers) == 0 {
		return names, nil
	}
	if err := r.DB(ctx).SelectContext(ctx, &names, legalNamesQuery, registry.LegalNameType, pq.Array(entityNumbers)); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to read legal names")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read legal names")
	}
	return names, nil
}

func (r *TemporalRepository) SetPrimaryNames(ctx context.Context, names []models.PrimaryName, extractNumber int) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "TemporalRepository.SetPrimaryNames")
	defer span.End()

	if len(names) == 0 {
		return 0, nil
	}

	numbers := ectolinq.Map(names, func(n models.PrimaryName) string { return n.EnterpriseNumber })
	values := ectolinq.Map(names, func(n models.PrimaryName) string { return n.Name })
	languages := ectolinq.Map(names, func(n models.PrimaryName) string {
		if n.Language == nil {
			return ""
		}
		return *n.Language
	})

	res, err := r.DB(ctx).ExecContext(ctx, setPrimaryNamesQuery, pq.Array(numbers), pq.Array(values), pq.Array(languages), extractNumber)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("names", len(names)).Error("failed to set primary names")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set primary names")
	}

	n, _ := res.RowsAffected()
	return n, nil
}
