package typeconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Pairs(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"greenplum->sqlserver",
		"oracle->greenplum",
		"oracle->sqlserver",
		"postgres->sqlserver",
	}, reg.Pairs())
}

func TestOracleToGreenplum(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	table, ok := reg.Table("oracle", "greenplum")
	require.True(t, ok)

	tests := []struct {
		native string
		want   string
	}{
		{"BINARY_DOUBLE", "float8"},
		{"BINARY_FLOAT", "float8"},
		{"CHAR", "character"},
		{"CLOB", "text"},
		{"DATE", "timestamp"},
		{"DECIMAL", "float8"},
		{"INT", "numeric"},
		{"LONG", "text"},
		{"NCHAR", "character"},
		{"NCLOB", "text"},
		{"NUMBER", "numeric"},
		{"NUMBER(10,2)", "numeric"},
		{"NVARCHAR2", "character varying"},
		{"ROWID", "text"},
		{"TIMESTAMP", "timestamp"},
		{"TIMESTAMP(6)", "timestamp"},
		{"UROWID", "text"},
		{"VARCHAR", "character varying"},
		{"VARCHAR2(255)", "character varying"},
		{"TIMESTAMP(6) WITH TIME ZONE", "timestamp with time zone"},
		{"TIMESTAMP(9) WITH LOCAL TIME ZONE", "timestamp with time zone"},
		{"timestamp with time zone", "timestamp with time zone"},
	}
	for _, tt := range tests {
		t.Run(tt.native, func(t *testing.T) {
			got, ok := table.Convert(tt.native)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok = table.Convert("BLOB")
	assert.False(t, ok, "BLOB has no conversion")
	assert.Equal(t, 19, table.Len())
}

func TestOracleTimeZoneTypes(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	want := map[string]string{"greenplum": "timestamp with time zone", "sqlserver": "datetimeoffset"}
	for dest, target := range want {
		table, ok := reg.Table("oracle", dest)
		require.True(t, ok)
		for _, native := range []string{"TIMESTAMP(6) WITH TIME ZONE", "TIMESTAMP(6) WITH LOCAL TIME ZONE"} {
			got, ok := table.Convert(native)
			assert.True(t, ok, "%s -> %s", native, dest)
			assert.Equal(t, target, got, "%s -> %s", native, dest)
		}
	}
}

func TestPostgresAndGreenplumShareSQLServerTable(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	pg, ok := reg.Table("postgres", "sqlserver")
	require.True(t, ok)
	gp, ok := reg.Table("GREENPLUM", "SQLServer")
	require.True(t, ok)

	for _, native := range []string{"integer", "character varying(40)", "timestamp with time zone", "uuid"} {
		a, okA := pg.Convert(native)
		b, okB := gp.Convert(native)
		assert.True(t, okA && okB, native)
		assert.Equal(t, a, b, native)
	}

	got, _ := pg.Convert("NUMERIC(12,4)")
	assert.Equal(t, "decimal(38,10)", got)
}

func TestParse_RejectsConflictingEntries(t *testing.T) {
	_, err := Parse([]byte(`
conversions:
  oracle:
    greenplum:
      NUMBER: numeric
      number: float8
`))
	require.Error(t, err)
}

func TestParse_RejectsEmptyTable(t *testing.T) {
	_, err := Parse([]byte(`
conversions:
  oracle:
    greenplum: {}
`))
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "varchar2", Normalize(" VARCHAR2(255) "))
	assert.Equal(t, "timestamp with time zone", Normalize("TIMESTAMP(6) WITH TIME ZONE"))
	assert.Equal(t, "timestamp with local time zone", Normalize("TIMESTAMP(3)  WITH LOCAL TIME ZONE"))
	assert.Equal(t, "character varying", Normalize("character varying(40)"))
}
