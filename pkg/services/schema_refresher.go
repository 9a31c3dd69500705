package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
)

// SchemaRefreshResult summarizes one database's schema pass.
type SchemaRefreshResult struct {
	Schemas       int
	Datasets      int
	StaleSchemas  int
	StaleDatasets int
	RejectedNames []string
}

// SchemaRefresher reconciles the schemas (and optionally datasets) of one
// Database against its remote catalog.
type SchemaRefresher interface {
	Refresh(ctx context.Context, ds *models.DataSource, owner *models.Account, db *models.Database, opts RefreshOptions) (*SchemaRefreshResult, error)

	// RefreshDatasets re-lists the datasets of one schema. Returns how many
	// were seen and how many were marked stale.
	RefreshDatasets(ctx context.Context, ds *models.DataSource, owner *models.Account, db *models.Database, schema *models.Schema, markStale bool) (int, int, error)
}

type schemaRefresher struct {
	factory  datasource.Factory
	schemas  repositories.SchemaRepository
	datasets repositories.DatasetRepository
	now      func() time.Time
	logger   *zap.Logger
}

func NewSchemaRefresher(
	factory datasource.Factory,
	schemas repositories.SchemaRepository,
	datasets repositories.DatasetRepository,
	logger *zap.Logger,
) SchemaRefresher {
	return &schemaRefresher{
		factory:  factory,
		schemas:  schemas,
		datasets: datasets,
		now:      time.Now,
		logger:   logger.Named("schema-refresh"),
	}
}

func (r *schemaRefresher) Refresh(ctx context.Context, ds *models.DataSource, owner *models.Account, db *models.Database, opts RefreshOptions) (*SchemaRefreshResult, error) {
	conn, err := r.factory.Database(ds, owner, db.Name)
	if err != nil {
		return nil, err
	}
	names, err := conn.Schemas(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	result := &SchemaRefreshResult{}
	var found []*models.Schema
	for _, name := range names {
		schema := &models.Schema{DatabaseID: db.ID, Name: name}
		if err := schema.Validate(); err != nil {
			r.logger.Debug("Discarding invalid schema",
				zap.String("database", db.Name),
				zap.String("schema", name),
				zap.Error(err))
			result.RejectedNames = append(result.RejectedNames, name)
			continue
		}
		if _, err := r.schemas.Upsert(ctx, schema, now); err != nil {
			return nil, err
		}
		found = append(found, schema)
	}
	result.Schemas = len(found)

	if opts.MarkStale {
		n, err := r.schemas.MarkStaleExcept(ctx, db.ID, schemaIDs(found), now)
		if err != nil {
			return nil, fmt.Errorf("failed to mark schemas stale: %w", err)
		}
		result.StaleSchemas = int(n)
	}

	if opts.SchemasOnly {
		return result, nil
	}

	for _, schema := range found {
		seen, stale, err := r.RefreshDatasets(ctx, ds, owner, db, schema, opts.MarkStale)
		if err != nil {
			return nil, err
		}
		result.Datasets += seen
		result.StaleDatasets += stale
	}
	return result, nil
}

func (r *schemaRefresher) RefreshDatasets(ctx context.Context, ds *models.DataSource, owner *models.Account, db *models.Database, schema *models.Schema, markStale bool) (int, int, error) {
	conn, err := r.factory.Schema(ds, owner, db.Name, schema.Name)
	if err != nil {
		return 0, 0, err
	}
	infos, err := conn.Datasets(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := r.now()
	keep := make([]uuid.UUID, 0, len(infos))
	for _, info := range infos {
		dataset := &models.Dataset{SchemaID: schema.ID, Name: info.Name, Kind: models.DatasetKind(info.Kind)}
		if err := dataset.Validate(); err != nil {
			r.logger.Debug("Discarding invalid dataset",
				zap.String("schema", schema.Name),
				zap.String("dataset", info.Name),
				zap.Error(err))
			continue
		}
		if _, err := r.datasets.Upsert(ctx, dataset, now); err != nil {
			return 0, 0, err
		}
		keep = append(keep, dataset.ID)
	}

	var stale int64
	if markStale {
		stale, err = r.datasets.MarkStaleExcept(ctx, schema.ID, keep, now)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to mark datasets stale: %w", err)
		}
	}
	return len(keep), int(stale), nil
}

func schemaIDs(schemas []*models.Schema) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(schemas))
	for _, s := range schemas {
		ids = append(ids, s.ID)
	}
	return ids
}
