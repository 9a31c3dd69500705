package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-mirror/pkg/database"
)

// PostgresImage backs both the catalog store and the "remote" engine in integration tests.
const PostgresImage = "postgres:16-alpine"

const (
	testUser     = "catalog"
	testPassword = "test_password"
	testDatabase = "catalog_test"
)

// TestDB holds a shared PostgreSQL container used as a remote engine.
type TestDB struct {
	Container testcontainers.Container
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDatabase,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &TestDB{
		Container: container,
		Host:      host,
		Port:      port.Int(),
		User:      testUser,
		Password:  testPassword,
		Database:  testDatabase,
	}, nil
}

// ConnStr returns a URL for the given database inside the shared container.
func (t *TestDB) ConnStr(dbName string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", t.User, t.Password, t.Host, t.Port, dbName)
}

// CatalogDB holds the catalog store connection with migrations applied.
// Use this for testing repositories and services against a real database.
type CatalogDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedCatalogDB     *CatalogDB
	sharedCatalogDBOnce sync.Once
	sharedCatalogDBErr  error
)

// GetCatalogDB returns a shared, migrated catalog store for integration tests.
func GetCatalogDB(t *testing.T) *CatalogDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	testDB := GetTestDB(t)

	sharedCatalogDBOnce.Do(func() {
		sharedCatalogDB, sharedCatalogDBErr = setupCatalogDB(testDB)
	})

	if sharedCatalogDBErr != nil {
		t.Fatalf("Failed to setup catalog database: %v", sharedCatalogDBErr)
	}

	return sharedCatalogDB
}

func setupCatalogDB(testDB *TestDB) (*CatalogDB, error) {
	ctx := context.Background()
	connStr := testDB.ConnStr(testDB.Database)

	db, err := database.NewConnectionWithRetry(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	}, nil, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &CatalogDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// CleanCatalog empties every catalog table. Call at the start of a test that
// asserts on row counts.
func CleanCatalog(t *testing.T, db *CatalogDB) {
	t.Helper()

	_, err := db.DB.Exec(context.Background(),
		`TRUNCATE datasets, schemas, database_accounts, databases, accounts, data_sources CASCADE`)
	if err != nil {
		t.Fatalf("Failed to clean catalog: %v", err)
	}
}
