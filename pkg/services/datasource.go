package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
)

// DataSourceService manages data source registration and lifecycle.
type DataSourceService interface {
	// Create registers a data source with its owner account.
	Create(ctx context.Context, ds *models.DataSource, owner *models.Account) error

	// AddAccount registers another credential on an existing data source.
	AddAccount(ctx context.Context, dataSourceID uuid.UUID, acct *models.Account) error

	// TestConnection opens and closes one session with the owner credential.
	TestConnection(ctx context.Context, ds *models.DataSource, owner *models.Account) error

	// Resolve loads a data source and one of its accounts, decrypted, for
	// use as a copy destination.
	Resolve(ctx context.Context, dataSourceID, accountID uuid.UUID) (*models.DataSource, *models.Account, error)

	// Destroy deletes the data source and requests cleanup of its databases.
	Destroy(ctx context.Context, id uuid.UUID) error

	// RefreshAll runs a database refresh for every data source, one at a time.
	RefreshAll(ctx context.Context, opts RefreshOptions) error

	// RegisterHandlers installs the background request handlers this service owns.
	RegisterHandlers(r HandlerRegistrar)
}

type dataSourceService struct {
	dataSources repositories.DataSourceRepository
	databases   repositories.DatabaseRepository
	schemas     repositories.SchemaRepository
	accounts    AccountService
	factory     datasource.Factory
	sync        CatalogSyncService
	refresher   SchemaRefresher
	enqueuer    Enqueuer
	logger      *zap.Logger
}

func NewDataSourceService(
	dataSources repositories.DataSourceRepository,
	databases repositories.DatabaseRepository,
	schemas repositories.SchemaRepository,
	accounts AccountService,
	factory datasource.Factory,
	sync CatalogSyncService,
	refresher SchemaRefresher,
	enqueuer Enqueuer,
	logger *zap.Logger,
) DataSourceService {
	return &dataSourceService{
		dataSources: dataSources,
		databases:   databases,
		schemas:     schemas,
		accounts:    accounts,
		factory:     factory,
		sync:        sync,
		refresher:   refresher,
		enqueuer:    enqueuer,
		logger:      logger.Named("datasource"),
	}
}

func (s *dataSourceService) Create(ctx context.Context, ds *models.DataSource, owner *models.Account) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if !datasource.IsRegistered(string(ds.Engine)) {
		return fmt.Errorf("%w: engine %q", apperrors.ErrUnsupported, ds.Engine)
	}
	if err := s.dataSources.Create(ctx, ds); err != nil {
		return err
	}

	owner.DataSourceID = ds.ID
	if err := s.accounts.Create(ctx, owner); err != nil {
		return fmt.Errorf("failed to create owner account: %w", err)
	}
	if err := s.dataSources.SetOwnerAccount(ctx, ds.ID, owner.ID); err != nil {
		return err
	}
	ds.OwnerAccountID = &owner.ID

	s.logger.Info("Created data source",
		zap.String("id", ds.ID.String()),
		zap.String("name", ds.Name),
		zap.String("engine", string(ds.Engine)))
	return nil
}

func (s *dataSourceService) AddAccount(ctx context.Context, dataSourceID uuid.UUID, acct *models.Account) error {
	if _, err := s.dataSources.GetByID(ctx, dataSourceID); err != nil {
		return err
	}
	acct.DataSourceID = dataSourceID
	return s.accounts.Create(ctx, acct)
}

func (s *dataSourceService) TestConnection(ctx context.Context, ds *models.DataSource, owner *models.Account) error {
	inst, err := s.factory.Instance(ds, owner)
	if err != nil {
		return err
	}
	if err := inst.Connect(ctx); err != nil {
		return err
	}
	return inst.Disconnect(ctx)
}

func (s *dataSourceService) Resolve(ctx context.Context, dataSourceID, accountID uuid.UUID) (*models.DataSource, *models.Account, error) {
	ds, err := s.dataSources.GetByID(ctx, dataSourceID)
	if err != nil {
		return nil, nil, err
	}
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if acct.DataSourceID != ds.ID {
		return nil, nil, fmt.Errorf("account %s of data source %q: %w", accountID, ds.Name, apperrors.ErrNotFound)
	}
	return ds, acct, nil
}

func (s *dataSourceService) Destroy(ctx context.Context, id uuid.UUID) error {
	ds, err := s.dataSources.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.dataSources.Delete(ctx, id); err != nil {
		return err
	}

	if _, err := s.enqueuer.EnqueueIfNotQueued(ctx, JobDestroyDatabases, id.String()); err != nil {
		return fmt.Errorf("failed to enqueue database cleanup: %w", err)
	}

	s.logger.Info("Destroyed data source",
		zap.String("id", id.String()),
		zap.String("name", ds.Name))
	return nil
}

func (s *dataSourceService) RefreshAll(ctx context.Context, opts RefreshOptions) error {
	sources, err := s.dataSources.List(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, ds := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ds.OwnerAccountID == nil {
			s.logger.Debug("Skipping data source without owner account", zap.String("data_source", ds.Name))
			continue
		}
		if _, err := s.sync.RefreshDatabases(ctx, ds.ID, opts); err != nil {
			s.logger.Error("Refresh failed",
				zap.String("data_source", ds.Name),
				logging.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ds.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *dataSourceService) RegisterHandlers(r HandlerRegistrar) {
	r.Register(JobReindexDatasets, s.reindexDatasets)
	r.Register(JobDestroyDatabases, s.destroyDatabases)
}

// reindexDatasets re-lists datasets of every non-stale schema of the database keyed by databaseID.
func (s *dataSourceService) reindexDatasets(ctx context.Context, databaseID string) error {
	id, err := uuid.Parse(databaseID)
	if err != nil {
		return fmt.Errorf("invalid database id %q: %w", databaseID, err)
	}

	db, err := s.databases.GetByID(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Debug("Database gone before reindex", zap.String("database_id", databaseID))
		return nil
	}
	if err != nil {
		return err
	}

	ds, err := s.dataSources.GetByID(ctx, db.DataSourceID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	owner, err := s.accounts.Owner(ctx, ds)
	if err != nil {
		return err
	}

	schemas, err := s.schemas.ListByDatabase(ctx, db.ID)
	if err != nil {
		return err
	}

	total := 0
	for _, schema := range schemas {
		if schema.Stale() {
			continue
		}
		seen, _, err := s.refresher.RefreshDatasets(ctx, ds, owner, db, schema, true)
		if err != nil {
			return fmt.Errorf("reindex %s.%s: %w", db.Name, schema.Name, err)
		}
		total += seen
	}

	s.logger.Info("Reindexed datasets",
		zap.String("database", db.Name),
		zap.Int("datasets", total))
	return nil
}

// destroyDatabases removes the local databases of a destroyed data source.
func (s *dataSourceService) destroyDatabases(ctx context.Context, dataSourceID string) error {
	id, err := uuid.Parse(dataSourceID)
	if err != nil {
		return fmt.Errorf("invalid data source id %q: %w", dataSourceID, err)
	}

	n, err := s.databases.DeleteByDataSource(ctx, id)
	if err != nil {
		return err
	}

	s.logger.Info("Destroyed databases of data source",
		zap.String("data_source_id", dataSourceID),
		zap.Int64("count", n))
	return nil
}
