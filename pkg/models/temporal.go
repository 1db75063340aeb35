package models

// EntityType is derived from the shape of a business key.
type EntityType string

const (
	EntityTypeEnterprise    EntityType = "enterprise"
	EntityTypeEstablishment EntityType = "establishment"
)

// Version tags rows written by one extract.
type Version struct {
	SnapshotDate  string
	ExtractNumber int
}

// PrimaryName is the denormalized display name of an enterprise.
type PrimaryName struct {
	EnterpriseNumber string  `db:"enterprise_number" json:"enterprise_number"`
	Name             string  `db:"primary_name" json:"primary_name"`
	Language         *string `db:"primary_name_language" json:"primary_name_language,omitempty"`
}

// LegalName is a current legal-name denomination row.
type LegalName struct {
	EntityNumber string `db:"entity_number"`
	Language     string `db:"language"`
	Denomination string `db:"denomination"`
}
