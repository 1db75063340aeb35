package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

type Staging struct {
	s *Store
}

func (r *Staging) Insert(ctx context.Context, table *registry.Table, jobID uuid.UUID, rows []registry.StagedRow) error {
	return r.s.do(ctx, "staging.insert", func(st *state) error {
		for _, row := range rows {
			st.staging[table.StoreTable] = append(st.staging[table.StoreTable], stagedRow{JobID: jobID, Row: row})
		}
		return nil
	})
}

func inBatch(r stagedRow, ref models.BatchRef) bool {
	return r.JobID == ref.JobID && r.Row.BatchNumber == ref.BatchNumber && r.Row.Operation == ref.Operation
}

func (r *Staging) ReadBatch(ctx context.Context, table *registry.Table, ref models.BatchRef) ([]registry.StagedRow, error) {
	var rows []registry.StagedRow
	err := r.s.do(ctx, "staging.read", func(st *state) error {
		for _, row := range st.staging[table.StoreTable] {
			if inBatch(row, ref) && !row.Processed {
				rows = append(rows, row.Row)
			}
		}
		return nil
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowNumber < rows[j].RowNumber })
	return rows, err
}

func (r *Staging) MarkProcessed(ctx context.Context, table *registry.Table, ref models.BatchRef) (int64, error) {
	var n int64
	err := r.s.do(ctx, "staging.processed", func(st *state) error {
		rows := st.staging[table.StoreTable]
		for i := range rows {
			if inBatch(rows[i], ref) && !rows[i].Processed {
				rows[i].Processed = true
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *Staging) Purge(ctx context.Context, table *registry.Table, jobID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.do(ctx, "staging.purge", func(st *state) error {
		kept := st.staging[table.StoreTable][:0]
		for _, row := range st.staging[table.StoreTable] {
			if row.JobID == jobID {
				n++
				continue
			}
			kept = append(kept, row)
		}
		st.staging[table.StoreTable] = kept
		return nil
	})
	return n, err
}
