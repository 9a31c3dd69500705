package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

func TestDialect_QuoteIdentifier(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, `"orders"`, d.QuoteIdentifier("orders"))
	assert.Equal(t, `"Mixed Case"`, d.QuoteIdentifier("Mixed Case"))
	assert.Equal(t, `"bad""name"`, d.QuoteIdentifier(`bad"name`))
}

func TestDialect_CatalogFilters(t *testing.T) {
	d := Dialect{}

	grants, err := d.DatabaseGrantsSQL()
	require.NoError(t, err)
	assert.Contains(t, grants, "has_database_privilege(r.oid, d.oid, 'CONNECT')")
	assert.Contains(t, grants, "d.datistemplate = false")
	assert.Contains(t, grants, "d.datallowconn = true")
	assert.Contains(t, grants, "d.datname <> 'postgres'")

	assert.Contains(t, d.SchemasSQL(), "NOT LIKE 'pg_%'")
	assert.Contains(t, d.SchemasSQL(), "'gp_toolkit', 'gpperfmon'")
	assert.Contains(t, d.DatabasesSQL(), "datallowconn IS TRUE")
}

func TestDialect_GreenplumDatasetsReportExternalTables(t *testing.T) {
	assert.Contains(t, Dialect{Greenplum: true}.DatasetsSQL(), "pg_exttable")
	assert.NotContains(t, Dialect{}.DatasetsSQL(), "pg_exttable")
}

func TestRegister_PostgresAndGreenplum(t *testing.T) {
	for _, engine := range []string{"postgres", "greenplum"} {
		reg, ok := datasource.Lookup(engine)
		require.True(t, ok, engine)
		assert.Equal(t, "postgres", reg.MaintenanceDB)
		assert.IsType(t, Driver{}, reg.Driver)
	}
}
