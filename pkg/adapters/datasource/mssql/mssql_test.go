package mssql

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

func TestBuildConnectionString(t *testing.T) {
	s := datasource.Settings{
		Host:     "mssql.example.com",
		Database: "dw",
		Username: "sa",
		Password: "p@ss;word",
	}
	cfg := datasource.ConnectionConfig{LoginTimeout: 10 * time.Second, SSLMode: "require"}

	u, err := url.Parse(buildConnectionString(s, cfg))
	require.NoError(t, err)

	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "mssql.example.com:1433", u.Host)
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss;word", password)

	q := u.Query()
	assert.Equal(t, "dw", q.Get("database"))
	assert.Equal(t, "true", q.Get("encrypt"))
	assert.Equal(t, "true", q.Get("TrustServerCertificate"))
	assert.Equal(t, "10", q.Get("dial timeout"))
	assert.Equal(t, "10", q.Get("connection timeout"))
}

func TestEncryptSetting(t *testing.T) {
	tests := map[string]string{
		"disable":     "disable",
		"require":     "true",
		"verify-full": "true",
		"prefer":      "false",
		"":            "false",
	}
	for mode, want := range tests {
		assert.Equal(t, want, encryptSetting(mode), mode)
	}
}

func TestQuoteName(t *testing.T) {
	assert.Equal(t, "[orders]", quoteName("orders"))
	assert.Equal(t, "[we]]ird]", quoteName("we]ird"))
	assert.Equal(t, "[dbo].[orders]", buildFullyQualifiedName("dbo", "orders"))
}

func TestDialect(t *testing.T) {
	d := Dialect{}

	_, err := d.DatabaseGrantsSQL()
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	assert.Empty(t, d.SearchPathSQL("dbo"))
	assert.Equal(t, "UPDATE STATISTICS [dbo].[orders]", d.AnalyzeSQL(buildFullyQualifiedName("dbo", "orders")))
	assert.Contains(t, d.TableExistsSQL(), "@p2")
}

func TestRegister_SQLServer(t *testing.T) {
	reg, ok := datasource.Lookup("sqlserver")
	require.True(t, ok)
	assert.Equal(t, "master", reg.MaintenanceDB)
}

type stubResult struct {
	n   int64
	err error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, errors.New("not supported") }
func (r stubResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestRowsAffected(t *testing.T) {
	n, err := rowsAffected(stubResult{n: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	driverErr := errors.New("rows affected unavailable")
	n, err = rowsAffected(stubResult{n: 7, err: driverErr})
	assert.ErrorIs(t, err, driverErr)
	assert.Zero(t, n)
}
