// Package registry describes the business-registry tables: how package files map to store tables,
// the typed schema of each table's rows, and how rows are identified.
package registry

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
)

type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
)

type Field struct {
	Source   string
	Column   string
	Type     FieldType
	Required bool
}

type TableKind string

const (
	// KindPrimary tables hold versioned entities keyed by their own business key.
	KindPrimary TableKind = "primary"
	// KindLink tables hang off an entity and are keyed by a synthetic id.
	KindLink TableKind = "link"
)

type Table struct {
	Name           string
	StoreTable     string
	StagingTable   string
	Kind           TableKind
	IdentityColumn string
	DeleteColumn   string
	Fields         []Field

	identity func(Record) string
	index    map[string]int
}

func newTable(name, store string, kind TableKind, identityColumn, deleteColumn string, identity func(Record) string, fields ...Field) *Table {
	t := &Table{
		Name:           name,
		StoreTable:     store,
		StagingTable:   "staging_" + store,
		Kind:           kind,
		IdentityColumn: identityColumn,
		DeleteColumn:   deleteColumn,
		Fields:         fields,
		identity:       identity,
		index:          make(map[string]int, len(fields)),
	}
	for i := range t.Fields {
		if t.Fields[i].Column == "" {
			t.Fields[i].Column = ColumnName(t.Fields[i].Source)
		}
		t.index[t.Fields[i].Column] = i
	}
	return t
}

func text(source string) Field {
	return Field{Source: source, Type: FieldText}
}

func key(source string) Field {
	return Field{Source: source, Type: FieldText, Required: true}
}

func date(source string) Field {
	return Field{Source: source, Type: FieldDate}
}

// Columns returns the data columns in schema order.
func (t *Table) Columns() []string {
	columns := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		columns[i] = f.Column
	}
	return columns
}

func (t *Table) Field(column string) (Field, bool) {
	i, ok := t.index[column]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// Identity returns the value that identifies a versioned row: the business key for primary tables
// and the synthetic id for link tables.
func (t *Table) Identity(r Record) string {
	if t.identity != nil {
		return t.identity(r)
	}
	return r.Text(t.IdentityColumn)
}

func (t *Table) IsEnterprise() bool {
	return t.StoreTable == "enterprises"
}

const hashLength = 8

func joinID(parts ...string) string {
	return strings.Join(parts, "_")
}

var (
	Enterprise = newTable("enterprise", "enterprises", KindPrimary, "enterprise_number", "enterprise_number", nil,
		key("EnterpriseNumber"),
		text("Status"),
		text("JuridicalSituation"),
		text("TypeOfEnterprise"),
		text("JuridicalForm"),
		text("JuridicalFormCAC"),
		date("StartDate"),
	)

	Establishment = newTable("establishment", "establishments", KindPrimary, "establishment_number", "establishment_number", nil,
		key("EstablishmentNumber"),
		date("StartDate"),
		text("EnterpriseNumber"),
	)

	Branch = newTable("branch", "branches", KindPrimary, "id", "id", nil,
		key("Id"),
		date("StartDate"),
		text("EnterpriseNumber"),
	)

	Denomination = newTable("denomination", "denominations", KindLink, "id", "entity_number",
		func(r Record) string {
			return joinID(r.Text("entity_number"), r.Text("type_of_denomination"), r.Text("language"),
				fingerprint.Short(r.Text("denomination"), hashLength))
		},
		key("EntityNumber"),
		text("Language"),
		text("TypeOfDenomination"),
		text("Denomination"),
	)

	Address = newTable("address", "addresses", KindLink, "id", "entity_number",
		func(r Record) string {
			return joinID(r.Text("entity_number"), r.Text("type_of_address"))
		},
		key("EntityNumber"),
		text("TypeOfAddress"),
		text("CountryNL"),
		text("CountryFR"),
		text("Zipcode"),
		text("MunicipalityNL"),
		text("MunicipalityFR"),
		text("StreetNL"),
		text("StreetFR"),
		text("HouseNumber"),
		text("Box"),
		text("ExtraAddressInfo"),
		date("DateStrikingOff"),
	)

	Activity = newTable("activity", "activities", KindLink, "id", "entity_number",
		func(r Record) string {
			return joinID(r.Text("entity_number"), r.Text("activity_group"), r.Text("nace_version"),
				r.Text("nace_code"), r.Text("classification"))
		},
		key("EntityNumber"),
		text("ActivityGroup"),
		text("NaceVersion"),
		text("NaceCode"),
		text("Classification"),
	)

	Contact = newTable("contact", "contacts", KindLink, "id", "entity_number",
		func(r Record) string {
			return joinID(r.Text("entity_number"), r.Text("entity_contact"), r.Text("contact_type"),
				fingerprint.Short(r.Text("value"), hashLength))
		},
		key("EntityNumber"),
		text("EntityContact"),
		text("ContactType"),
		text("Value"),
	)
)

var tables = []*Table{Enterprise, Establishment, Branch, Denomination, Address, Activity, Contact}

// Tables returns every versioned table, sorted by store table name.
func Tables() []*Table {
	out := append([]*Table(nil), tables...)
	sort.Slice(out, func(i, j int) bool { return out[i].StoreTable < out[j].StoreTable })
	return out
}

// Lookup resolves a package table name ("activity") to its table.
func Lookup(packageName string) (*Table, bool) {
	name := strings.ToLower(strings.TrimSpace(packageName))
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// ByStoreTable resolves a store table name ("activities") to its table.
func ByStoreTable(store string) (*Table, bool) {
	for _, t := range tables {
		if t.StoreTable == store {
			return t, true
		}
	}
	return nil, false
}
