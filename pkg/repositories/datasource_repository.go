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

// DataSourceRepository defines the interface for data source persistence.
type DataSourceRepository interface {
	// Create inserts a new data source. Returns apperrors.ErrConflict if the name is taken.
	Create(ctx context.Context, ds *models.DataSource) error

	// GetByID returns apperrors.ErrNotFound when no row matches.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error)

	// List returns every data source ordered by name.
	List(ctx context.Context) ([]*models.DataSource, error)

	// SetOwnerAccount points the data source at the account used for catalog refreshes.
	SetOwnerAccount(ctx context.Context, id, accountID uuid.UUID) error

	// Delete removes a data source and, by cascade, its accounts.
	Delete(ctx context.Context, id uuid.UUID) error
}

type dataSourceRepository struct {
	db Querier
}

// NewDataSourceRepository creates a data source repository backed by PostgreSQL.
func NewDataSourceRepository(db Querier) DataSourceRepository {
	return &dataSourceRepository{db: db}
}

const dataSourceColumns = `id, name, engine, host, port, maintenance_db, owner_account_id, created_at, updated_at`

func (r *dataSourceRepository) Create(ctx context.Context, ds *models.DataSource) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO data_sources (`+dataSourceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ds.ID, ds.Name, string(ds.Engine), ds.Host, ds.Port, ds.MaintenanceDB,
		ds.OwnerAccountID, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create data source: %w", err)
	}
	return nil
}

func (r *dataSourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	row := r.db.QueryRow(ctx, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = $1`, id)
	ds, err := scanDataSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get data source: %w", err)
	}
	return ds, nil
}

func (r *dataSourceRepository) List(ctx context.Context) ([]*models.DataSource, error) {
	rows, err := r.db.Query(ctx, `SELECT `+dataSourceColumns+` FROM data_sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var out []*models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data sources: %w", err)
	}
	return out, nil
}

func (r *dataSourceRepository) SetOwnerAccount(ctx context.Context, id, accountID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE data_sources SET owner_account_id = $2, updated_at = now() WHERE id = $1`, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to set owner account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dataSourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM data_sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanDataSource(row pgx.Row) (*models.DataSource, error) {
	var ds models.DataSource
	var engine string
	err := row.Scan(
		&ds.ID,
		&ds.Name,
		&engine,
		&ds.Host,
		&ds.Port,
		&ds.MaintenanceDB,
		&ds.OwnerAccountID,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ds.Engine = models.Engine(engine)
	return &ds, nil
}
