package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
)

// SyncOutcome tags what a refresh pass did with one remote database.
type SyncOutcome int

const (
	SyncCreated SyncOutcome = iota + 1
	SyncUpdated
	SyncRejected
)

func (o SyncOutcome) String() string {
	switch o {
	case SyncCreated:
		return "created"
	case SyncUpdated:
		return "updated"
	case SyncRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DatabaseSync is the result of reconciling one remote database group.
type DatabaseSync struct {
	Outcome         SyncOutcome
	Name            string
	Database        *models.Database // nil when rejected
	AccountsChanged bool
	ReindexQueued   bool
}

// RefreshResult summarizes a RefreshDatabases pass.
type RefreshResult struct {
	Created         int
	Updated         int
	Rejected        int
	Found           int
	MarkedStale     int
	ReindexEnqueued int

	// Aborted is set when the remote catalog could not be read at all.
	Aborted bool

	Databases []DatabaseSync
	Schemas   *SchemaPassResult
}

// SchemaPassResult summarizes a RefreshSchemas pass.
type SchemaPassResult struct {
	Refreshed []string
	Failed    map[string]error
}

// CatalogSyncService mirrors a data source's databases and schemas.
// Passes against one data source are serialized; a caller waits for the
// running pass to finish before its own starts.
type CatalogSyncService interface {
	// RefreshDatabases reconciles remote databases and their account grants
	// against the local store. Remote failures are logged and contained: the
	// returned error is only ever a local store failure.
	RefreshDatabases(ctx context.Context, dataSourceID uuid.UUID, opts RefreshOptions) (*RefreshResult, error)

	// RefreshSchemas refreshes every non-stale database's schemas. A remote
	// failure on one database is logged and the pass moves on.
	RefreshSchemas(ctx context.Context, dataSourceID uuid.UUID, opts RefreshOptions) (*SchemaPassResult, error)
}

type catalogSyncService struct {
	dataSources repositories.DataSourceRepository
	databases   repositories.DatabaseRepository
	datasets    repositories.DatasetRepository
	accounts    AccountService
	factory     datasource.Factory
	refresher   SchemaRefresher
	enqueuer    Enqueuer
	now         func() time.Time
	logger      *zap.Logger

	passLocks sync.Map // dataSourceID -> chan struct{}
}

func NewCatalogSyncService(
	dataSources repositories.DataSourceRepository,
	databases repositories.DatabaseRepository,
	datasets repositories.DatasetRepository,
	accounts AccountService,
	factory datasource.Factory,
	refresher SchemaRefresher,
	enqueuer Enqueuer,
	logger *zap.Logger,
) CatalogSyncService {
	return &catalogSyncService{
		dataSources: dataSources,
		databases:   databases,
		datasets:    datasets,
		accounts:    accounts,
		factory:     factory,
		refresher:   refresher,
		enqueuer:    enqueuer,
		now:         time.Now,
		logger:      logger.Named("catalog-sync"),
	}
}

// lockPass blocks until no other pass runs against the data source, or ctx ends.
func (s *catalogSyncService) lockPass(ctx context.Context, dataSourceID uuid.UUID) (func(), error) {
	v, _ := s.passLocks.LoadOrStore(dataSourceID, make(chan struct{}, 1))
	slot := v.(chan struct{})
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *catalogSyncService) RefreshDatabases(ctx context.Context, dataSourceID uuid.UUID, opts RefreshOptions) (*RefreshResult, error) {
	unlock, err := s.lockPass(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ds, err := s.dataSources.GetByID(ctx, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	owner, err := s.accounts.Owner(ctx, ds)
	if err != nil {
		return nil, err
	}

	result, err := s.syncDatabases(ctx, ds, owner, opts)
	if err != nil {
		return result, err
	}

	// An aborted pass found nothing, so its schemas are left as they were.
	if result.Aborted || opts.SkipSchemaRefresh {
		return result, nil
	}

	result.Schemas, err = s.refreshSchemas(ctx, ds, owner, opts)
	return result, err
}

// syncDatabases runs the database half of a refresh. Stale marking is
// deferred so it happens whether the remote query succeeded or not. A local
// store failure leaves found incomplete, so nothing is marked then.
func (s *catalogSyncService) syncDatabases(ctx context.Context, ds *models.DataSource, owner *models.Account, opts RefreshOptions) (result *RefreshResult, err error) {
	result = &RefreshResult{}
	var found []uuid.UUID

	if opts.MarkStale {
		defer func() {
			if err != nil {
				return
			}
			marked, markErr := s.databases.MarkStaleExcept(context.WithoutCancel(ctx), ds.ID, found, s.now())
			if markErr != nil {
				s.logger.Error("Failed to mark databases stale",
					zap.String("data_source", ds.Name),
					zap.Error(markErr))
				err = fmt.Errorf("failed to mark databases stale: %w", markErr)
				return
			}
			result.MarkedStale = int(marked)
			if marked > 0 {
				s.logger.Info("Marked databases stale",
					zap.String("data_source", ds.Name),
					zap.Int64("count", marked))
			}
		}()
	}

	accounts, err := s.accounts.ListByDataSource(ctx, ds.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list accounts: %w", err)
	}

	groups, err := s.fetchGrantGroups(ctx, ds, owner, accounts)
	if err != nil {
		if !isRemoteError(err) {
			return result, err
		}
		s.logger.Error("Could not refresh databases",
			zap.String("data_source", ds.Name),
			zap.Bool("unreachable", datasource.IsUnreachable(err)),
			logging.Error(err))
		result.Aborted = true
		return result, nil
	}

	byUsername := make(map[string]*models.Account, len(accounts))
	for _, acct := range accounts {
		byUsername[acct.DBUsername] = acct
	}

	for _, g := range groups {
		synced, err := s.syncDatabase(ctx, ds, g, byUsername)
		if err != nil {
			return result, err
		}
		result.Databases = append(result.Databases, synced)

		switch synced.Outcome {
		case SyncRejected:
			result.Rejected++
			continue
		case SyncCreated:
			result.Created++
		case SyncUpdated:
			result.Updated++
		}
		if synced.ReindexQueued {
			result.ReindexEnqueued++
		}
		found = append(found, synced.Database.ID)
	}
	result.Found = len(found)

	s.logger.Info("Refreshed databases",
		zap.String("data_source", ds.Name),
		zap.Int("found", result.Found),
		zap.Int("created", result.Created),
		zap.Int("rejected", result.Rejected),
		zap.Int("reindex_enqueued", result.ReindexEnqueued))
	return result, nil
}

// grantGroup is one remote database and the known usernames that may connect to it.
type grantGroup struct {
	database  string
	usernames []string
}

func (s *catalogSyncService) fetchGrantGroups(ctx context.Context, ds *models.DataSource, owner *models.Account, accounts []*models.Account) ([]grantGroup, error) {
	inst, err := s.factory.Instance(ds, owner)
	if err != nil {
		return nil, err
	}

	usernames := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		usernames = append(usernames, acct.DBUsername)
	}

	grants, err := inst.DatabaseGrants(ctx, usernames)
	if errors.Is(err, apperrors.ErrUnsupported) {
		// Without role introspection every database the owner can see is
		// attributed to the owner alone.
		names, err := inst.Databases(ctx)
		if err != nil {
			return nil, err
		}
		grants = make([]datasource.DatabaseGrant, 0, len(names))
		for _, name := range names {
			grants = append(grants, datasource.DatabaseGrant{DatabaseName: name, DBUsername: owner.DBUsername})
		}
	} else if err != nil {
		return nil, err
	}

	return groupGrants(grants), nil
}

// groupGrants groups grant pairs by database name, in name order.
func groupGrants(grants []datasource.DatabaseGrant) []grantGroup {
	index := make(map[string]int)
	var groups []grantGroup
	for _, g := range grants {
		i, ok := index[g.DatabaseName]
		if !ok {
			i = len(groups)
			index[g.DatabaseName] = i
			groups = append(groups, grantGroup{database: g.DatabaseName})
		}
		groups[i].usernames = append(groups[i].usernames, g.DBUsername)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].database < groups[b].database })
	return groups
}

func (s *catalogSyncService) syncDatabase(ctx context.Context, ds *models.DataSource, g grantGroup, byUsername map[string]*models.Account) (DatabaseSync, error) {
	synced := DatabaseSync{Name: g.database}

	accountIDs := make([]uuid.UUID, 0, len(g.usernames))
	for _, username := range g.usernames {
		if acct, ok := byUsername[username]; ok {
			accountIDs = append(accountIDs, acct.ID)
		}
	}

	db, err := s.databases.FindByName(ctx, ds.ID, g.database)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		db = &models.Database{DataSourceID: ds.ID, Name: g.database}
		if err := db.Validate(); err != nil {
			s.logger.Debug("Discarding invalid database",
				zap.String("data_source", ds.Name),
				zap.String("database", g.database),
				zap.Error(err))
			synced.Outcome = SyncRejected
			return synced, nil
		}
		if err := s.databases.Create(ctx, db, accountIDs); err != nil {
			return synced, fmt.Errorf("failed to create database %q: %w", g.database, err)
		}
		synced.Outcome = SyncCreated
		synced.Database = db
		synced.AccountsChanged = len(accountIDs) > 0
		// A new database has no datasets, so there is nothing to reindex.
		return synced, nil
	case err != nil:
		return synced, fmt.Errorf("failed to find database %q: %w", g.database, err)
	}

	if err := db.Validate(); err != nil {
		s.logger.Debug("Discarding invalid database",
			zap.String("data_source", ds.Name),
			zap.String("database", g.database),
			zap.Error(err))
		synced.Outcome = SyncRejected
		return synced, nil
	}

	synced.Outcome = SyncUpdated
	synced.Database = db

	// It answered the refresh query, so it is reachable.
	if db.Stale() {
		db.StaleAt = nil
		if err := s.databases.Save(ctx, db); err != nil {
			return synced, fmt.Errorf("failed to clear stale mark on %q: %w", db.Name, err)
		}
	}

	stored, err := s.databases.AccountIDs(ctx, db.ID)
	if err != nil {
		return synced, fmt.Errorf("failed to load accounts of %q: %w", db.Name, err)
	}
	if models.SameAccountSet(stored, accountIDs) {
		return synced, nil
	}

	if err := s.databases.ReplaceAccounts(ctx, db.ID, accountIDs); err != nil {
		return synced, fmt.Errorf("failed to update accounts of %q: %w", db.Name, err)
	}
	synced.AccountsChanged = true

	count, err := s.datasets.CountByDatabase(ctx, db.ID)
	if err != nil {
		return synced, err
	}
	if count == 0 {
		return synced, nil
	}

	queued, err := s.enqueuer.EnqueueIfNotQueued(ctx, JobReindexDatasets, db.ID.String())
	if err != nil {
		return synced, fmt.Errorf("failed to enqueue reindex of %q: %w", db.Name, err)
	}
	synced.ReindexQueued = queued
	return synced, nil
}

func (s *catalogSyncService) RefreshSchemas(ctx context.Context, dataSourceID uuid.UUID, opts RefreshOptions) (*SchemaPassResult, error) {
	unlock, err := s.lockPass(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ds, err := s.dataSources.GetByID(ctx, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load data source: %w", err)
	}
	owner, err := s.accounts.Owner(ctx, ds)
	if err != nil {
		return nil, err
	}
	return s.refreshSchemas(ctx, ds, owner, opts)
}

func (s *catalogSyncService) refreshSchemas(ctx context.Context, ds *models.DataSource, owner *models.Account, opts RefreshOptions) (*SchemaPassResult, error) {
	databases, err := s.databases.ListByDataSource(ctx, ds.ID)
	if err != nil {
		return nil, err
	}

	pass := &SchemaPassResult{Failed: make(map[string]error)}
	for _, db := range databases {
		if db.Stale() {
			continue
		}

		if _, err := s.refresher.Refresh(ctx, ds, owner, db, opts); err != nil {
			if !isRemoteError(err) {
				return pass, err
			}
			s.logger.Warn("Could not refresh database schemas",
				zap.String("data_source", ds.Name),
				zap.String("database", db.Name),
				logging.Error(err))
			pass.Failed[db.Name] = err
			continue
		}
		pass.Refreshed = append(pass.Refreshed, db.Name)
	}
	return pass, nil
}

// isRemoteError reports whether err came from the remote engine rather than the local store.
func isRemoteError(err error) bool {
	return errors.Is(err, apperrors.ErrInstanceUnreachable) || errors.Is(err, apperrors.ErrQueryFailed)
}
