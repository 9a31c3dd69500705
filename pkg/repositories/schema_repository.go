package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-mirror/pkg/models"
)

// SchemaRepository persists mirrored Schema records.
type SchemaRepository interface {
	ListByDatabase(ctx context.Context, databaseID uuid.UUID) ([]*models.Schema, error)

	// Upsert inserts the schema or, when (database_id, name) exists, clears its
	// stale mark and stamps refreshed_at. Fills s.ID and reports whether a row was inserted.
	Upsert(ctx context.Context, s *models.Schema, refreshedAt time.Time) (bool, error)

	// MarkStaleExcept stamps stale_at on not-yet-stale schemas of the database outside keep.
	MarkStaleExcept(ctx context.Context, databaseID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error)
}

type schemaRepository struct {
	db Querier
}

func NewSchemaRepository(db Querier) SchemaRepository {
	return &schemaRepository{db: db}
}

func (r *schemaRepository) ListByDatabase(ctx context.Context, databaseID uuid.UUID) ([]*models.Schema, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, database_id, name, stale_at, refreshed_at, created_at, updated_at
		FROM schemas WHERE database_id = $1 ORDER BY name`, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var out []*models.Schema
	for rows.Next() {
		var s models.Schema
		if err := rows.Scan(&s.ID, &s.DatabaseID, &s.Name, &s.StaleAt, &s.RefreshedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}
	return out, nil
}

func (r *schemaRepository) Upsert(ctx context.Context, s *models.Schema, refreshedAt time.Time) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var inserted bool
	err := r.db.QueryRow(ctx, `
		INSERT INTO schemas (id, database_id, name, stale_at, refreshed_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $4, $4)
		ON CONFLICT (database_id, name) DO UPDATE
		SET stale_at = NULL, refreshed_at = EXCLUDED.refreshed_at, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0)`,
		s.ID, s.DatabaseID, s.Name, refreshedAt,
	).Scan(&s.ID, &s.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert schema %q: %w", s.Name, err)
	}
	s.StaleAt = nil
	s.RefreshedAt = &refreshedAt
	s.UpdatedAt = refreshedAt
	return inserted, nil
}

func (r *schemaRepository) MarkStaleExcept(ctx context.Context, databaseID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	return markStaleExcept(ctx, r.db, "schemas", "database_id", databaseID, keep, at)
}

// markStaleExcept is shared by the schema and dataset repositories. table and
// parentColumn are fixed identifiers supplied by this package, never user input.
func markStaleExcept(ctx context.Context, q Querier, table, parentColumn string, parentID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	sql := fmt.Sprintf(`
		UPDATE %s
		SET stale_at = $3, updated_at = $3
		WHERE %s = $1
		  AND stale_at IS NULL
		  AND NOT (id = ANY($2))`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{parentColumn}.Sanitize())
	tag, err := q.Exec(ctx, sql, parentID, keep, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %s stale: %w", table, err)
	}
	return tag.RowsAffected(), nil
}
