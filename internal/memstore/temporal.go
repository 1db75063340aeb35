package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/registry"
)

type Temporal struct {
	s *Store
}

func columnValue(table *registry.Table, v Version, column string) string {
	if column == table.IdentityColumn {
		return v.Identity
	}
	return v.Record.Text(column)
}

func (r *Temporal) Historize(ctx context.Context, table *registry.Table, column string, keys []string, extractNumber int) (int64, error) {
	if column != table.IdentityColumn && column != table.DeleteColumn {
		return 0, fmt.Errorf("%s cannot be historized by %s", table.StoreTable, column)
	}

	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}

	var n int64
	err := r.s.do(ctx, "temporal.historize", func(st *state) error {
		rows := st.temporal[table.StoreTable]
		for i := range rows {
			if !rows[i].IsCurrent || rows[i].ExtractNumber >= extractNumber {
				continue
			}
			if _, ok := set[columnValue(table, rows[i], column)]; !ok {
				continue
			}
			stamp := extractNumber
			rows[i].IsCurrent = false
			rows[i].DeletedAtExtract = &stamp
			n++
		}
		return nil
	})
	return n, err
}

// Insert enforces the same constraints as the database: one version per identity and extract, and
// at most one current version per identity.
func (r *Temporal) Insert(ctx context.Context, table *registry.Table, rows []registry.VersionedRow, version models.Version) (int64, error) {
	var n int64
	err := r.s.do(ctx, "temporal.insert", func(st *state) error {
		existing := st.temporal[table.StoreTable]
		for _, row := range rows {
			conflict := false
			for _, v := range existing {
				if v.Identity != row.Identity {
					continue
				}
				if v.ExtractNumber == version.ExtractNumber {
					conflict = true
					break
				}
				if v.IsCurrent {
					return fmt.Errorf("duplicate current version of %s %s", table.StoreTable, row.Identity)
				}
			}
			if conflict {
				continue
			}

			v := Version{
				Identity:      row.Identity,
				Record:        row.Record,
				SnapshotDate:  version.SnapshotDate,
				ExtractNumber: version.ExtractNumber,
				IsCurrent:     true,
			}
			if table.Kind == registry.KindLink {
				v.EntityType = row.EntityType
			}
			if table.IsEnterprise() {
				v.PrimaryName = row.Identity
				if row.PrimaryName != nil {
					v.PrimaryName = row.PrimaryName.Name
					v.NameLanguage = row.PrimaryName.Language
				}
			}
			existing = append(existing, v)
			n++
		}
		st.temporal[table.StoreTable] = existing
		return nil
	})
	return n, err
}

func (r *Temporal) PriorNames(ctx context.Context, enterpriseNumbers []string, extractNumber int) (map[string]models.PrimaryName, error) {
	names := map[string]models.PrimaryName{}
	latest := map[string]int{}
	err := r.s.do(ctx, "temporal.prior_names", func(st *state) error {
		for _, v := range st.temporal[registry.Enterprise.StoreTable] {
			if v.ExtractNumber >= extractNumber || v.PrimaryName == v.Identity || !ectolinq.Contains(enterpriseNumbers, v.Identity) {
				continue
			}
			if seen, ok := latest[v.Identity]; ok && seen > v.ExtractNumber {
				continue
			}
			latest[v.Identity] = v.ExtractNumber
			names[v.Identity] = models.PrimaryName{EnterpriseNumber: v.Identity, Name: v.PrimaryName, Language: v.NameLanguage}
		}
		return nil
	})
	return names, err
}

func (r *Temporal) UnresolvedEnterprises(ctx context.Context, extractNumber int) ([]string, error) {
	numbers := []string{}
	err := r.s.do(ctx, "temporal.unresolved", func(st *state) error {
		for _, v := range st.temporal[registry.Enterprise.StoreTable] {
			if v.IsCurrent && v.ExtractNumber == extractNumber && v.PrimaryName == v.Identity {
				numbers = append(numbers, v.Identity)
			}
		}
		return nil
	})
	sort.Strings(numbers)
	return numbers, err
}

func (r *Temporal) LegalNames(ctx context.Context, entityNumbers []string) ([]models.LegalName, error) {
	names := []models.LegalName{}
	err := r.s.do(ctx, "temporal.legal_names", func(st *state) error {
		for _, v := range st.temporal[registry.Denomination.StoreTable] {
			entity := v.Record.Text("entity_number")
			if !v.IsCurrent || v.Record.Text("type_of_denomination") != registry.LegalNameType || !ectolinq.Contains(entityNumbers, entity) {
				continue
			}
			names = append(names, models.LegalName{
				EntityNumber: entity,
				Language:     v.Record.Text("language"),
				Denomination: v.Record.Text("denomination"),
			})
		}
		return nil
	})
	return names, err
}

func (r *Temporal) SetPrimaryNames(ctx context.Context, names []models.PrimaryName, extractNumber int) (int64, error) {
	byNumber := make(map[string]models.PrimaryName, len(names))
	for _, n := range names {
		byNumber[n.EnterpriseNumber] = n
	}

	var n int64
	err := r.s.do(ctx, "temporal.set_names", func(st *state) error {
		rows := st.temporal[registry.Enterprise.StoreTable]
		for i := range rows {
			name, ok := byNumber[rows[i].Identity]
			if !ok || !rows[i].IsCurrent || rows[i].ExtractNumber != extractNumber {
				continue
			}
			rows[i].PrimaryName = name.Name
			rows[i].NameLanguage = name.Language
			if name.Language != nil && *name.Language == "" {
				rows[i].NameLanguage = nil
			}
			n++
		}
		return nil
	})
	return n, err
}
