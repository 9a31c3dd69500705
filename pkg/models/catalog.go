package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Database is a local record mirroring one remote database on a DataSource.
type Database struct {
	ID           uuid.UUID  `json:"id"`
	DataSourceID uuid.UUID  `json:"data_source_id"`
	Name         string     `json:"name" validate:"required,max=63,excludesall=/?&"`
	StaleAt      *time.Time `json:"stale_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Stale reports whether the database was absent from the last refresh.
func (d *Database) Stale() bool {
	return d.StaleAt != nil
}

// Validate applies the same naming rules the catalog enforces for every record.
func (d *Database) Validate() error {
	return validateRecord(d)
}

// Schema is a local record mirroring one remote schema inside a Database.
type Schema struct {
	ID          uuid.UUID  `json:"id"`
	DatabaseID  uuid.UUID  `json:"database_id"`
	Name        string     `json:"name" validate:"required,max=63,excludesall=/?&"`
	StaleAt     *time.Time `json:"stale_at,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (s *Schema) Stale() bool {
	return s.StaleAt != nil
}

func (s *Schema) Validate() error {
	return validateRecord(s)
}

// DatasetKind distinguishes tables, views and external tables.
type DatasetKind string

const (
	DatasetKindTable         DatasetKind = "table"
	DatasetKindView          DatasetKind = "view"
	DatasetKindExternalTable DatasetKind = "external_table"
)

// Dataset is a table-like object inside a Schema.
type Dataset struct {
	ID          uuid.UUID   `json:"id"`
	SchemaID    uuid.UUID   `json:"schema_id"`
	Name        string      `json:"name" validate:"required,max=63"`
	Kind        DatasetKind `json:"kind" validate:"required,oneof=table view external_table"`
	StaleAt     *time.Time  `json:"stale_at,omitempty"`
	RefreshedAt *time.Time  `json:"refreshed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (d *Dataset) Stale() bool {
	return d.StaleAt != nil
}

func (d *Dataset) Validate() error {
	return validateRecord(d)
}

// SameAccountSet reports whether two account ID lists hold the same members,
// ignoring order and duplicates.
func SameAccountSet(a, b []uuid.UUID) bool {
	return slices.Equal(sortedUnique(a), sortedUnique(b))
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(x, y uuid.UUID) int {
		return slices.Compare(x[:], y[:])
	})
	return slices.Compact(out)
}
