package services

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/workqueue"
)

// memCatalog is an in-memory catalog store. The typed views below implement
// the repository interfaces on top of it.
type memCatalog struct {
	mu sync.Mutex

	dataSources map[uuid.UUID]*models.DataSource
	accounts    map[uuid.UUID]*models.Account
	sealed      map[uuid.UUID]string
	databases   map[uuid.UUID]*models.Database
	dbAccounts  map[uuid.UUID][]uuid.UUID
	schemas     map[uuid.UUID]*models.Schema
	datasets    map[uuid.UUID]*models.Dataset

	replaceAccountsCalls int
	markStaleErr         error
	findErr              error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		dataSources: make(map[uuid.UUID]*models.DataSource),
		accounts:    make(map[uuid.UUID]*models.Account),
		sealed:      make(map[uuid.UUID]string),
		databases:   make(map[uuid.UUID]*models.Database),
		dbAccounts:  make(map[uuid.UUID][]uuid.UUID),
		schemas:     make(map[uuid.UUID]*models.Schema),
		datasets:    make(map[uuid.UUID]*models.Dataset),
	}
}

func (m *memCatalog) dataSourceRepo() repositories.DataSourceRepository { return memDataSources{m} }
func (m *memCatalog) accountRepo() repositories.AccountRepository       { return memAccounts{m} }
func (m *memCatalog) databaseRepo() repositories.DatabaseRepository     { return memDatabases{m} }
func (m *memCatalog) schemaRepo() repositories.SchemaRepository         { return memSchemas{m} }
func (m *memCatalog) datasetRepo() repositories.DatasetRepository       { return memDatasets{m} }

// databaseByName returns a copy of the named database of a data source, or nil.
func (m *memCatalog) databaseByName(dataSourceID uuid.UUID, name string) *models.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, db := range m.databases {
		if db.DataSourceID == dataSourceID && db.Name == name {
			c := *db
			return &c
		}
	}
	return nil
}

// addDatabase seeds a database with an account set.
func (m *memCatalog) addDatabase(dataSourceID uuid.UUID, name string, accountIDs ...uuid.UUID) *models.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	db := &models.Database{ID: uuid.New(), DataSourceID: dataSourceID, Name: name}
	m.databases[db.ID] = db
	m.dbAccounts[db.ID] = slices.Clone(accountIDs)
	c := *db
	return &c
}

// addDataset seeds a schema (created on demand) with one table.
func (m *memCatalog) addDataset(databaseID uuid.UUID, schemaName, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var schema *models.Schema
	for _, s := range m.schemas {
		if s.DatabaseID == databaseID && s.Name == schemaName {
			schema = s
		}
	}
	if schema == nil {
		schema = &models.Schema{ID: uuid.New(), DatabaseID: databaseID, Name: schemaName}
		m.schemas[schema.ID] = schema
	}
	ds := &models.Dataset{ID: uuid.New(), SchemaID: schema.ID, Name: name, Kind: models.DatasetKindTable}
	m.datasets[ds.ID] = ds
}

// accountNames returns the usernames associated with a database, sorted.
func (m *memCatalog) accountNames(databaseID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, id := range m.dbAccounts[databaseID] {
		names = append(names, m.accounts[id].DBUsername)
	}
	sort.Strings(names)
	return names
}

func (m *memCatalog) schemaNames(databaseID uuid.UUID, includeStale bool) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, s := range m.schemas {
		if s.DatabaseID == databaseID && (includeStale || s.StaleAt == nil) {
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

type memDataSources struct{ m *memCatalog }

func (r memDataSources) Create(ctx context.Context, ds *models.DataSource) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.dataSources {
		if existing.Name == ds.Name {
			return apperrors.ErrConflict
		}
	}
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	c := *ds
	r.m.dataSources[ds.ID] = &c
	return nil
}

func (r memDataSources) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ds, ok := r.m.dataSources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *ds
	return &c, nil
}

func (r memDataSources) List(ctx context.Context) ([]*models.DataSource, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.DataSource
	for _, ds := range r.m.dataSources {
		c := *ds
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memDataSources) SetOwnerAccount(ctx context.Context, id, accountID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ds, ok := r.m.dataSources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.OwnerAccountID = &accountID
	return nil
}

func (r memDataSources) Delete(ctx context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.dataSources[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.m.dataSources, id)
	for accountID, acct := range r.m.accounts {
		if acct.DataSourceID == id {
			delete(r.m.accounts, accountID)
		}
	}
	return nil
}

type memAccounts struct{ m *memCatalog }

func (r memAccounts) Create(ctx context.Context, acct *models.Account, sealedPassword string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	c := *acct
	c.DBPassword = ""
	r.m.accounts[acct.ID] = &c
	r.m.sealed[acct.ID] = sealedPassword
	return nil
}

func (r memAccounts) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	acct, ok := r.m.accounts[id]
	if !ok {
		return nil, "", apperrors.ErrNotFound
	}
	c := *acct
	return &c, r.m.sealed[id], nil
}

func (r memAccounts) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Account
	for _, acct := range r.m.accounts {
		if acct.DataSourceID == dataSourceID {
			c := *acct
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DBUsername < out[j].DBUsername })
	return out, nil
}

type memDatabases struct{ m *memCatalog }

func (r memDatabases) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Database, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Database
	for _, db := range r.m.databases {
		if db.DataSourceID == dataSourceID {
			c := *db
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memDatabases) GetByID(ctx context.Context, id uuid.UUID) (*models.Database, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	db, ok := r.m.databases[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *db
	return &c, nil
}

func (r memDatabases) FindByName(ctx context.Context, dataSourceID uuid.UUID, name string) (*models.Database, error) {
	if r.m.findErr != nil {
		return nil, r.m.findErr
	}
	if db := r.m.databaseByName(dataSourceID, name); db != nil {
		return db, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r memDatabases) Create(ctx context.Context, db *models.Database, accountIDs []uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.databases {
		if existing.DataSourceID == db.DataSourceID && existing.Name == db.Name {
			return apperrors.ErrConflict
		}
	}
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	c := *db
	r.m.databases[db.ID] = &c
	r.m.dbAccounts[db.ID] = slices.Clone(accountIDs)
	return nil
}

func (r memDatabases) Save(ctx context.Context, db *models.Database) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.databases[db.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored.StaleAt = db.StaleAt
	return nil
}

func (r memDatabases) AccountIDs(ctx context.Context, databaseID uuid.UUID) ([]uuid.UUID, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return slices.Clone(r.m.dbAccounts[databaseID]), nil
}

func (r memDatabases) ReplaceAccounts(ctx context.Context, databaseID uuid.UUID, accountIDs []uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.replaceAccountsCalls++
	r.m.dbAccounts[databaseID] = slices.Clone(accountIDs)
	return nil
}

func (r memDatabases) MarkStaleExcept(ctx context.Context, dataSourceID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	if r.m.markStaleErr != nil {
		return 0, r.m.markStaleErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, db := range r.m.databases {
		if db.DataSourceID != dataSourceID || db.StaleAt != nil || slices.Contains(keep, db.ID) {
			continue
		}
		stamp := at
		db.StaleAt = &stamp
		n++
	}
	return n, nil
}

func (r memDatabases) DeleteByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, db := range r.m.databases {
		if db.DataSourceID == dataSourceID {
			delete(r.m.databases, id)
			delete(r.m.dbAccounts, id)
			n++
		}
	}
	return n, nil
}

type memSchemas struct{ m *memCatalog }

func (r memSchemas) ListByDatabase(ctx context.Context, databaseID uuid.UUID) ([]*models.Schema, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Schema
	for _, s := range r.m.schemas {
		if s.DatabaseID == databaseID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memSchemas) Upsert(ctx context.Context, s *models.Schema, refreshedAt time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.schemas {
		if existing.DatabaseID == s.DatabaseID && existing.Name == s.Name {
			existing.StaleAt = nil
			existing.RefreshedAt = &refreshedAt
			s.ID = existing.ID
			return false, nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.RefreshedAt = &refreshedAt
	c := *s
	r.m.schemas[s.ID] = &c
	return true, nil
}

func (r memSchemas) MarkStaleExcept(ctx context.Context, databaseID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, s := range r.m.schemas {
		if s.DatabaseID != databaseID || s.StaleAt != nil || slices.Contains(keep, s.ID) {
			continue
		}
		stamp := at
		s.StaleAt = &stamp
		n++
	}
	return n, nil
}

type memDatasets struct{ m *memCatalog }

func (r memDatasets) ListBySchema(ctx context.Context, schemaID uuid.UUID) ([]*models.Dataset, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Dataset
	for _, d := range r.m.datasets {
		if d.SchemaID == schemaID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memDatasets) CountByDatabase(ctx context.Context, databaseID uuid.UUID) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, d := range r.m.datasets {
		s, ok := r.m.schemas[d.SchemaID]
		if ok && s.DatabaseID == databaseID && d.StaleAt == nil {
			n++
		}
	}
	return n, nil
}

func (r memDatasets) Upsert(ctx context.Context, d *models.Dataset, refreshedAt time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.datasets {
		if existing.SchemaID == d.SchemaID && existing.Name == d.Name {
			existing.StaleAt = nil
			existing.Kind = d.Kind
			d.ID = existing.ID
			return false, nil
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	c := *d
	r.m.datasets[d.ID] = &c
	return true, nil
}

func (r memDatasets) MarkStaleExcept(ctx context.Context, schemaID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, d := range r.m.datasets {
		if d.SchemaID != schemaID || d.StaleAt != nil || slices.Contains(keep, d.ID) {
			continue
		}
		stamp := at
		d.StaleAt = &stamp
		n++
	}
	return n, nil
}

// fakeQueue records submissions and keeps them pending until drained.
type fakeQueue struct {
	mu        sync.Mutex
	pending   map[string]bool
	submitted []string
	attempts  int
	err       error
	handlers  map[workqueue.JobKind]workqueue.Handler
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		pending:  make(map[string]bool),
		handlers: make(map[workqueue.JobKind]workqueue.Handler),
	}
}

func (q *fakeQueue) EnqueueIfNotQueued(ctx context.Context, kind workqueue.JobKind, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.attempts++
	if q.err != nil {
		return false, q.err
	}
	k := string(kind) + ":" + key
	if q.pending[k] {
		return false, nil
	}
	q.pending[k] = true
	q.submitted = append(q.submitted, k)
	return true, nil
}

func (q *fakeQueue) Register(kind workqueue.JobKind, handler workqueue.Handler) {
	q.handlers[kind] = handler
}

// drain simulates workers picking up every pending request.
func (q *fakeQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = make(map[string]bool)
}

func (q *fakeQueue) submissions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.submitted)
}
