package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/retry"
)

// DB wraps the catalog store connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds catalog store connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection creates a new connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// NewConnectionWithRetry retries NewConnection on transient failures, which
// covers a catalog store container that is still starting up.
func NewConnectionWithRetry(ctx context.Context, cfg *Config, retryCfg *retry.Config, logger *zap.Logger) (*DB, error) {
	attempt := 0
	return retry.DoWithResult(ctx, retryCfg, func() (*DB, error) {
		attempt++
		db, err := NewConnection(ctx, cfg)
		if err != nil {
			logger.Warn("Catalog store connection attempt failed",
				zap.Int("attempt", attempt),
				zap.String("url", logging.SanitizeConnectionString(cfg.URL)),
				logging.Error(err))
		}
		return db, err
	})
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
