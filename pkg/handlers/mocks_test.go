package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/services"
)

type mockDataSourceService struct {
	err        error
	created    *models.DataSource
	owner      *models.Account
	destroyed  []uuid.UUID
	accounts   []*models.Account
	refreshAll []services.RefreshOptions
	engine     models.Engine
}

func (m *mockDataSourceService) Create(ctx context.Context, ds *models.DataSource, owner *models.Account) error {
	if m.err != nil {
		return m.err
	}
	ds.ID = uuid.New()
	owner.ID = uuid.New()
	ds.OwnerAccountID = &owner.ID
	m.created = ds
	m.owner = owner
	return nil
}

func (m *mockDataSourceService) AddAccount(ctx context.Context, dataSourceID uuid.UUID, acct *models.Account) error {
	if m.err != nil {
		return m.err
	}
	acct.ID = uuid.New()
	acct.DataSourceID = dataSourceID
	m.accounts = append(m.accounts, acct)
	return nil
}

func (m *mockDataSourceService) TestConnection(ctx context.Context, ds *models.DataSource, owner *models.Account) error {
	return m.err
}

func (m *mockDataSourceService) Resolve(ctx context.Context, dataSourceID, accountID uuid.UUID) (*models.DataSource, *models.Account, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	ds := &models.DataSource{ID: dataSourceID, Name: "dest", Engine: m.engine}
	return ds, &models.Account{ID: accountID, DataSourceID: dataSourceID, DBUsername: "loader"}, nil
}

func (m *mockDataSourceService) Destroy(ctx context.Context, id uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.destroyed = append(m.destroyed, id)
	return nil
}

func (m *mockDataSourceService) RefreshAll(ctx context.Context, opts services.RefreshOptions) error {
	m.refreshAll = append(m.refreshAll, opts)
	return m.err
}

func (m *mockDataSourceService) RegisterHandlers(r services.HandlerRegistrar) {}

type mockCatalogSyncService struct {
	result *services.RefreshResult
	err    error
	gotID  uuid.UUID
	gotOpt services.RefreshOptions
}

func (m *mockCatalogSyncService) RefreshDatabases(ctx context.Context, dataSourceID uuid.UUID, opts services.RefreshOptions) (*services.RefreshResult, error) {
	m.gotID = dataSourceID
	m.gotOpt = opts
	return m.result, m.err
}

func (m *mockCatalogSyncService) RefreshSchemas(ctx context.Context, dataSourceID uuid.UUID, opts services.RefreshOptions) (*services.SchemaPassResult, error) {
	return nil, m.err
}

type mockTableCopyService struct {
	err  error
	jobs []*services.CopyJob
}

func (m *mockTableCopyService) Copy(ctx context.Context, job *services.CopyJob) error {
	m.jobs = append(m.jobs, job)
	return m.err
}
