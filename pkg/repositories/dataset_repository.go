package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-mirror/pkg/models"
)

// DatasetRepository persists mirrored Dataset records.
type DatasetRepository interface {
	ListBySchema(ctx context.Context, schemaID uuid.UUID) ([]*models.Dataset, error)

	// CountByDatabase counts non-stale datasets across every schema of a database.
	CountByDatabase(ctx context.Context, databaseID uuid.UUID) (int, error)

	// Upsert inserts the dataset or refreshes the existing (schema_id, name) row,
	// clearing stale_at and updating kind. Reports whether a row was inserted.
	Upsert(ctx context.Context, d *models.Dataset, refreshedAt time.Time) (bool, error)

	MarkStaleExcept(ctx context.Context, schemaID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error)
}

type datasetRepository struct {
	db Querier
}

func NewDatasetRepository(db Querier) DatasetRepository {
	return &datasetRepository{db: db}
}

func (r *datasetRepository) ListBySchema(ctx context.Context, schemaID uuid.UUID) ([]*models.Dataset, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, schema_id, name, kind, stale_at, refreshed_at, created_at, updated_at
		FROM datasets WHERE schema_id = $1 ORDER BY name`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []*models.Dataset
	for rows.Next() {
		var d models.Dataset
		var kind string
		if err := rows.Scan(&d.ID, &d.SchemaID, &d.Name, &kind, &d.StaleAt, &d.RefreshedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		d.Kind = models.DatasetKind(kind)
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return out, nil
}

func (r *datasetRepository) CountByDatabase(ctx context.Context, databaseID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM datasets d
		JOIN schemas s ON s.id = d.schema_id
		WHERE s.database_id = $1 AND d.stale_at IS NULL`, databaseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count datasets: %w", err)
	}
	return count, nil
}

func (r *datasetRepository) Upsert(ctx context.Context, d *models.Dataset, refreshedAt time.Time) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var inserted bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO datasets (id, schema_id, name, kind, stale_at, refreshed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, $5, $5)
		ON CONFLICT (schema_id, name) DO UPDATE
		SET kind = EXCLUDED.kind, stale_at = NULL,
		    refreshed_at = EXCLUDED.refreshed_at, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0)`,
		d.ID, d.SchemaID, d.Name, string(d.Kind), refreshedAt,
	).Scan(&d.ID, &d.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert dataset %q: %w", d.Name, err)
	}
	d.StaleAt = nil
	d.RefreshedAt = &refreshedAt
	d.UpdatedAt = refreshedAt
	return inserted, nil
}

func (r *datasetRepository) MarkStaleExcept(ctx context.Context, schemaID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	return markStaleExcept(ctx, r.db, "datasets", "schema_id", schemaID, keep, at)
}
