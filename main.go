package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/catalog-mirror/pkg/config"
	"github.com/ekaya-inc/catalog-mirror/pkg/crypto"
	"github.com/ekaya-inc/catalog-mirror/pkg/database"
	"github.com/ekaya-inc/catalog-mirror/pkg/handlers"
	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
	"github.com/ekaya-inc/catalog-mirror/pkg/middleware"
	"github.com/ekaya-inc/catalog-mirror/pkg/repositories"
	"github.com/ekaya-inc/catalog-mirror/pkg/retry"
	"github.com/ekaya-inc/catalog-mirror/pkg/services"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/typeconv"
	"github.com/ekaya-inc/catalog-mirror/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("public_url", cfg.PublicURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Duration("sync_interval", cfg.Sync.SyncInterval()),
		zap.Int("queue_workers", cfg.Queue.Workers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Catalog mirror stopped with error", logging.Error(err))
	}
	logger.Info("Catalog mirror stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.NewConnectionWithRetry(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, retry.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		return err
	}

	cipher, err := crypto.NewPasswordCipher(cfg.CredentialsKey)
	if err != nil {
		return err
	}
	conversions, err := typeconv.Default()
	if err != nil {
		return err
	}

	dataSourceRepo := repositories.NewDataSourceRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	databaseRepo := repositories.NewDatabaseRepository(db)
	schemaRepo := repositories.NewSchemaRepository(db)
	datasetRepo := repositories.NewDatasetRepository(db)

	factory := datasource.NewFactory(datasource.ConnectionConfig{
		LoginTimeout: cfg.Connection.LoginTimeout(),
		SSLMode:      cfg.Connection.SSLMode,
		ResolveHost:  cfg.Connection.ResolveHost,
	}, logger)

	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Queue.Workers)))
	defer queue.Close()

	accounts := services.NewAccountService(accountRepo, cipher, logger)
	refresher := services.NewSchemaRefresher(factory, schemaRepo, datasetRepo, logger)
	catalogSync := services.NewCatalogSyncService(dataSourceRepo, databaseRepo, datasetRepo, accounts, factory, refresher, queue, logger)
	dataSources := services.NewDataSourceService(dataSourceRepo, databaseRepo, schemaRepo, accounts, factory, catalogSync, refresher, queue, logger)
	dataSources.RegisterHandlers(queue)
	tableCopy := services.NewTableCopyService(factory, conversions, services.DefaultCopiers(cfg.PublicURL, logger), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, queue, logger).RegisterRoutes(mux)
	handlers.NewDataSourcesHandler(dataSources, catalogSync, logger).RegisterRoutes(mux)
	handlers.NewCopiesHandler(dataSources, tableCopy, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting catalog mirror", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return scheduleRefresh(ctx, cfg.Sync, dataSources, logger)
	})

	return g.Wait()
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, logger)
}

// scheduleRefresh runs a refresh of every data source on each tick until ctx ends.
func scheduleRefresh(ctx context.Context, cfg config.SyncConfig, dataSources services.DataSourceService, logger *zap.Logger) error {
	opts := services.RefreshOptions{
		MarkStale:         cfg.MarkStale,
		SkipSchemaRefresh: cfg.SkipSchemaRefresh,
	}

	ticker := time.NewTicker(cfg.SyncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			started := time.Now()
			if err := dataSources.RefreshAll(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Scheduled refresh finished with failures", logging.Error(err))
			}
			logger.Info("Scheduled refresh complete", zap.Duration("elapsed", time.Since(started)))
		}
	}
}
