package datasource

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
)

// Factory builds connection handles for a data source and one of its accounts.
// Handles are cheap: nothing is dialed until an operation runs.
type Factory interface {
	// Instance returns a handle on the data source's maintenance database.
	Instance(ds *models.DataSource, acct *models.Account) (*InstanceConnection, error)

	// Database returns a handle on one database of the data source.
	Database(ds *models.DataSource, acct *models.Account, database string) (*DatabaseConnection, error)

	// Schema returns a handle on one schema of one database.
	Schema(ds *models.DataSource, acct *models.Account, database, schema string) (*SchemaConnection, error)
}

// LookupFunc resolves an engine type to its registration.
type LookupFunc func(engine string) (EngineRegistration, bool)

type registryFactory struct {
	config ConnectionConfig
	lookup LookupFunc
	logger *zap.Logger
}

// NewFactory returns a factory that resolves engines from the global registry.
func NewFactory(cfg ConnectionConfig, logger *zap.Logger) Factory {
	return NewFactoryWithLookup(cfg, Lookup, logger)
}

// NewFactoryWithLookup returns a factory that resolves engines through lookup.
func NewFactoryWithLookup(cfg ConnectionConfig, lookup LookupFunc, logger *zap.Logger) Factory {
	return &registryFactory{
		config: cfg,
		lookup: lookup,
		logger: logger.Named("remote"),
	}
}

func (f *registryFactory) Instance(ds *models.DataSource, acct *models.Account) (*InstanceConnection, error) {
	conn, err := f.build(ds, acct, "", "")
	if err != nil {
		return nil, err
	}
	return &InstanceConnection{Connection: conn}, nil
}

func (f *registryFactory) Database(ds *models.DataSource, acct *models.Account, database string) (*DatabaseConnection, error) {
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	conn, err := f.build(ds, acct, database, "")
	if err != nil {
		return nil, err
	}
	return &DatabaseConnection{Connection: conn}, nil
}

func (f *registryFactory) Schema(ds *models.DataSource, acct *models.Account, database, schema string) (*SchemaConnection, error) {
	if database == "" || schema == "" {
		return nil, fmt.Errorf("database and schema names are required")
	}
	conn, err := f.build(ds, acct, database, schema)
	if err != nil {
		return nil, err
	}
	return &SchemaConnection{Connection: conn}, nil
}

func (f *registryFactory) build(ds *models.DataSource, acct *models.Account, database, schema string) (*Connection, error) {
	if ds == nil || acct == nil {
		return nil, fmt.Errorf("data source and account are required")
	}
	reg, ok := f.lookup(string(ds.Engine))
	if !ok {
		return nil, fmt.Errorf("%w: engine %q is not registered", apperrors.ErrUnsupported, ds.Engine)
	}

	if database == "" {
		database = ds.MaintenanceDB
		if database == "" {
			database = reg.MaintenanceDB
		}
	}

	settings := Settings{
		Host:     ds.Host,
		Port:     ds.Port,
		Database: database,
		Schema:   schema,
		Username: acct.DBUsername,
		Password: acct.DBPassword,
	}
	return newConnection(reg.Driver, reg.Dialect, settings, f.config, f.logger), nil
}

var _ Factory = (*registryFactory)(nil)
