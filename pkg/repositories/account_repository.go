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

// AccountRepository persists data source accounts.
// Passwords are stored sealed; sealing and opening is handled by the service layer.
type AccountRepository interface {
	Create(ctx context.Context, acct *models.Account, sealedPassword string) error

	// GetByID returns the account and its sealed password.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, string, error)

	// ListByDataSource returns the data source's accounts without passwords.
	ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Account, error)
}

type accountRepository struct {
	db Querier
}

func NewAccountRepository(db Querier) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, acct *models.Account, sealedPassword string) error {
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, data_source_id, db_username, db_password_encrypted, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.DataSourceID, acct.DBUsername, sealedPassword, acct.OwnerID, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, string, error) {
	var acct models.Account
	var sealed string
	err := r.db.QueryRow(ctx, `
		SELECT id, data_source_id, db_username, db_password_encrypted, owner_id, created_at, updated_at
		FROM accounts WHERE id = $1`, id).Scan(
		&acct.ID,
		&acct.DataSourceID,
		&acct.DBUsername,
		&sealed,
		&acct.OwnerID,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", apperrors.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to get account: %w", err)
	}
	return &acct, sealed, nil
}

func (r *accountRepository) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, data_source_id, db_username, owner_id, created_at, updated_at
		FROM accounts WHERE data_source_id = $1
		ORDER BY db_username`, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		var acct models.Account
		if err := rows.Scan(&acct.ID, &acct.DataSourceID, &acct.DBUsername, &acct.OwnerID, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, &acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}
