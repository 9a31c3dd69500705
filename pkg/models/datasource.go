package models

import (
	"time"

	"github.com/google/uuid"
)

// Engine names a remote relational engine family.
type Engine string

const (
	EngineGreenplum Engine = "greenplum"
	EnginePostgres  Engine = "postgres"
	EngineSQLServer Engine = "sqlserver"
)

// DataSource is a registered remote engine instance (host + port + maintenance database).
type DataSource struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name" validate:"required,max=255"`
	Engine         Engine     `json:"engine" validate:"required,oneof=greenplum postgres sqlserver"`
	Host           string     `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port           int        `json:"port" validate:"required,min=1,max=65535"`
	MaintenanceDB  string     `json:"maintenance_db"`
	OwnerAccountID *uuid.UUID `json:"owner_account_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the data source registration fields.
func (d *DataSource) Validate() error {
	return validateRecord(d)
}

// Account is a set of credentials registered against one DataSource.
// DBPassword only ever holds the decrypted value in memory.
type Account struct {
	ID           uuid.UUID  `json:"id"`
	DataSourceID uuid.UUID  `json:"data_source_id"`
	DBUsername   string     `json:"db_username" validate:"required,max=128"`
	DBPassword   string     `json:"-"`
	OwnerID      *uuid.UUID `json:"owner_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
