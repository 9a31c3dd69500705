//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestCatalogDB_MigrationsApplied(t *testing.T) {
	catalogDB := GetCatalogDB(t)

	ctx := context.Background()

	for _, table := range []string{"data_sources", "accounts", "databases", "database_accounts", "schemas", "datasets"} {
		var exists bool
		err := catalogDB.DB.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist", table)
		}
	}
}
