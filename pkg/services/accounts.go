package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/crypto"
	"github.com/ekaya-inc/catalog-mirror/pkg/models"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
)

// AccountService stores data source accounts with sealed passwords and hands
// them back decrypted for remote logins.
type AccountService interface {
	// Create seals acct.DBPassword and persists the account.
	Create(ctx context.Context, acct *models.Account) error

	// Get returns the account with its password decrypted.
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// Owner returns the data source's owner account, decrypted.
	Owner(ctx context.Context, ds *models.DataSource) (*models.Account, error)

	// ListByDataSource returns the data source's accounts without passwords.
	ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Account, error)
}

type accountService struct {
	repo   repositories.AccountRepository
	cipher *crypto.PasswordCipher
	logger *zap.Logger
}

func NewAccountService(repo repositories.AccountRepository, cipher *crypto.PasswordCipher, logger *zap.Logger) AccountService {
	return &accountService{
		repo:   repo,
		cipher: cipher,
		logger: logger.Named("accounts"),
	}
}

func (s *accountService) Create(ctx context.Context, acct *models.Account) error {
	if acct.DBUsername == "" {
		return fmt.Errorf("db username is required")
	}
	sealed, err := s.cipher.Seal(acct.DBPassword)
	if err != nil {
		return fmt.Errorf("failed to seal password: %w", err)
	}
	if err := s.repo.Create(ctx, acct, sealed); err != nil {
		return err
	}

	s.logger.Info("Created account",
		zap.String("id", acct.ID.String()),
		zap.String("data_source_id", acct.DataSourceID.String()),
		zap.String("db_username", acct.DBUsername))
	return nil
}

func (s *accountService) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acct, sealed, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	password, err := s.cipher.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	acct.DBPassword = password
	return acct, nil
}

func (s *accountService) Owner(ctx context.Context, ds *models.DataSource) (*models.Account, error) {
	if ds.OwnerAccountID == nil {
		return nil, fmt.Errorf("data source %q has no owner account", ds.Name)
	}
	return s.Get(ctx, *ds.OwnerAccountID)
}

func (s *accountService) ListByDataSource(ctx context.Context, dataSourceID uuid.UUID) ([]*models.Account, error) {
	return s.repo.ListByDataSource(ctx, dataSourceID)
}
