package registry

import (
	"fmt"
	"strings"
	"time"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SourceDateLayout is the registry's DD-MM-YYYY date format.
const SourceDateLayout = "02-01-2006"

// Record is one typed row of a table. Values line up with Table.Fields; a value is a string, a
// time.Time for date fields, or nil when the source cell was empty.
type Record struct {
	table  *Table
	values []any
}

// NewRecord builds a record from values already in schema order.
func NewRecord(table *Table, values []any) Record {
	return Record{table: table, values: values}
}

func (r Record) Table() *Table {
	return r.table
}

func (r Record) Values() []any {
	return r.values
}

func (r Record) Get(column string) any {
	i, ok := r.table.index[column]
	if !ok || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Text returns a column as a string; nil is the empty string and dates use ISO form.
func (r Record) Text(column string) string {
	switch v := r.Get(column).(type) {
	case string:
		return v
	case time.Time:
		return v.Format(time.DateOnly)
	default:
		return ""
	}
}

// Map returns the record keyed by column name.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, f := range r.table.Fields {
		if i < len(r.values) {
			m[f.Column] = r.values[i]
		}
	}
	return m
}

// StagedRow is a record waiting in a staging area.
type StagedRow struct {
	RowNumber   int
	BatchNumber int
	Operation   models.Operation
	Record      Record
}

// VersionedRow is a record ready to become the current version in the temporal store.
type VersionedRow struct {
	Identity    string
	EntityType  models.EntityType
	PrimaryName *models.PrimaryName
	Record      Record
}

// Binding maps the header of one delta file onto a table schema.
type Binding struct {
	table     *Table
	operation models.Operation
	positions []int
}

// Bind checks a file header against the schema. Delete files only need the delete column; insert
// files need every required column. Unknown header columns are ignored.
func (t *Table) Bind(header []string, op models.Operation) (*Binding, error) {
	positions := make([]int, len(t.Fields))
	for i := range positions {
		positions[i] = -1
	}
	for i, name := range header {
		if idx, ok := t.index[ColumnName(name)]; ok {
			positions[idx] = i
		}
	}

	b := &Binding{table: t, operation: op, positions: positions}
	for _, column := range b.requiredColumns() {
		if positions[t.index[column]] < 0 {
			return nil, fernerrors.NewValidationError(column, "missing column in %s header", t.Name)
		}
	}
	return b, nil
}

func (b *Binding) requiredColumns() []string {
	if b.operation == models.OperationDelete {
		return []string{b.table.DeleteColumn}
	}
	var columns []string
	for _, f := range b.table.Fields {
		if f.Required {
			columns = append(columns, f.Column)
		}
	}
	return columns
}

// Record converts one data row. Date cells are parsed from DD-MM-YYYY.
func (b *Binding) Record(row []string) (Record, error) {
	values := make([]any, len(b.table.Fields))
	for i, f := range b.table.Fields {
		pos := b.positions[i]
		if pos < 0 || pos >= len(row) {
			continue
		}
		if b.operation == models.OperationDelete && f.Column != b.table.DeleteColumn {
			continue
		}

		cell := strings.TrimSpace(row[pos])
		if cell == "" {
			continue
		}

		switch f.Type {
		case FieldDate:
			d, err := ParseDate(cell)
			if err != nil {
				return Record{}, fernerrors.NewValidationError(f.Column, "%v", err)
			}
			values[i] = d
		default:
			values[i] = cell
		}
	}

	record := NewRecord(b.table, values)
	for _, column := range b.requiredColumns() {
		if record.Get(column) == nil {
			return Record{}, fernerrors.NewValidationError(column, "required value is empty")
		}
	}
	return record, nil
}

// ParseDate parses a DD-MM-YYYY registry date.
func ParseDate(value string) (time.Time, error) {
	d, err := time.Parse(SourceDateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected DD-MM-YYYY", value)
	}
	return d, nil
}
