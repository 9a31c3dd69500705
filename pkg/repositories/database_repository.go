package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
)

// DatabaseRepository persists mirrored Database records and their account sets.
type DatabaseRepository interface {
	// ListByDataSource returns every Database of a data source, stale or not.
	ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Database, error)

	// GetByID returns apperrors.ErrNotFound when no row matches.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Database, error)

	// FindByName returns apperrors.ErrNotFound when the data source has no such database.
	FindByName(ctx context.Context, dataSourceID uuid.UUID, name string) (*models.Database, error)

	// Create inserts the database together with its account set in one transaction.
	Create(ctx context.Context, db *models.Database, accountIDs []uuid.UUID) error

	// Save persists StaleAt and bumps UpdatedAt.
	Save(ctx context.Context, db *models.Database) error

	// AccountIDs returns the database's current account set.
	AccountIDs(ctx context.Context, databaseID uuid.UUID) ([]uuid.UUID, error)

	// ReplaceAccounts rewrites the database's account set in one transaction.
	ReplaceAccounts(ctx context.Context, databaseID uuid.UUID, accountIDs []uuid.UUID) error

	// MarkStaleExcept stamps stale_at on every not-yet-stale database of the
	// data source whose ID is not in keep. Returns the number of rows marked.
	MarkStaleExcept(ctx context.Context, dataSourceID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error)

	// DeleteByDataSource removes every database of a data source.
	DeleteByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int64, error)
}

type databaseRepository struct {
	db TxBeginner
}

func NewDatabaseRepository(db TxBeginner) DatabaseRepository {
	return &databaseRepository{db: db}
}

const databaseColumns = `id, data_source_id, name, stale_at, created_at, updated_at`

func (r *databaseRepository) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Database, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+databaseColumns+` FROM databases WHERE data_source_id = $1 ORDER BY name`, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var out []*models.Database
	for rows.Next() {
		db, err := scanDatabase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan database: %w", err)
		}
		out = append(out, db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating databases: %w", err)
	}
	return out, nil
}

func (r *databaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Database, error) {
	db, err := scanDatabase(r.db.QueryRow(ctx, `SELECT `+databaseColumns+` FROM databases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	return db, nil
}

func (r *databaseRepository) FindByName(ctx context.Context, dataSourceID uuid.UUID, name string) (*models.Database, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+databaseColumns+` FROM databases WHERE data_source_id = $1 AND name = $2`, dataSourceID, name)
	db, err := scanDatabase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find database: %w", err)
	}
	return db, nil
}

func (r *databaseRepository) Create(ctx context.Context, db *models.Database, accountIDs []uuid.UUID) error {
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	now := time.Now()
	db.CreatedAt = now
	db.UpdatedAt = now

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO databases (`+databaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		db.ID, db.DataSourceID, db.Name, db.StaleAt, db.CreatedAt, db.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create database: %w", err)
	}

	if err := insertDatabaseAccounts(ctx, tx, db.ID, accountIDs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *databaseRepository) Save(ctx context.Context, db *models.Database) error {
	db.UpdatedAt = time.Now()
	tag, err := r.db.Exec(ctx,
		`UPDATE databases SET stale_at = $2, updated_at = $3 WHERE id = $1`, db.ID, db.StaleAt, db.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save database: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *databaseRepository) AccountIDs(ctx context.Context, databaseID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT account_id FROM database_accounts WHERE database_id = $1 ORDER BY account_id`, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list database accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan database accounts: %w", err)
	}
	return ids, nil
}

func (r *databaseRepository) ReplaceAccounts(ctx context.Context, databaseID uuid.UUID, accountIDs []uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM database_accounts WHERE database_id = $1`, databaseID); err != nil {
		return fmt.Errorf("failed to clear database accounts: %w", err)
	}
	if err := insertDatabaseAccounts(ctx, tx, databaseID, accountIDs); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE databases SET updated_at = now() WHERE id = $1`, databaseID); err != nil {
		return fmt.Errorf("failed to touch database: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *databaseRepository) MarkStaleExcept(ctx context.Context, dataSourceID uuid.UUID, keep []uuid.UUID, at time.Time) (int64, error) {
	if keep == nil {
		keep = []uuid.UUID{}
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE databases
		SET stale_at = $3, updated_at = $3
		WHERE data_source_id = $1
		  AND stale_at IS NULL
		  AND NOT (id = ANY($2))`,
		dataSourceID, keep, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark databases stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *databaseRepository) DeleteByDataSource(ctx context.Context, dataSourceID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM databases WHERE data_source_id = $1`, dataSourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete databases: %w", err)
	}
	return tag.RowsAffected(), nil
}

func insertDatabaseAccounts(ctx context.Context, q Querier, databaseID uuid.UUID, accountIDs []uuid.UUID) error {
	for _, accountID := range accountIDs {
		_, err := q.Exec(ctx, `
			INSERT INTO database_accounts (database_id, account_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, databaseID, accountID)
		if err != nil {
			return fmt.Errorf("failed to link account %s: %w", accountID, err)
		}
	}
	return nil
}

func scanDatabase(row pgx.Row) (*models.Database, error) {
	var db models.Database
	err := row.Scan(&db.ID, &db.DataSourceID, &db.Name, &db.StaleAt, &db.CreatedAt, &db.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &db, nil
}
