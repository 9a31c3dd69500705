package postgres

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

func TestBuildConnectionString_EscapesCredentials(t *testing.T) {
	s := datasource.Settings{
		Host:     "gp.example.com",
		Port:     6432,
		Database: "sales data",
		Username: "etl@corp",
		Password: "p@ss/w#rd?",
	}

	connStr := buildConnectionString(s, datasource.ConnectionConfig{})

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	assert.Equal(t, "etl@corp", u.User.Username())
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss/w#rd?", password)
	assert.Equal(t, "gp.example.com:6432", u.Host)
	assert.Equal(t, "/sales data", u.Path)
	assert.Equal(t, "prefer", u.Query().Get("sslmode"))
	assert.Empty(t, u.Query().Get("connect_timeout"))
}

func TestBuildConnectionString_LoginTimeoutAndDefaults(t *testing.T) {
	s := datasource.Settings{Host: "localhost", Database: "postgres", Username: "gpadmin"}
	cfg := datasource.ConnectionConfig{
		LoginTimeout: 10 * time.Second,
		SSLMode:      "disable",
		ResolveHost:  func(string) string { return "host.docker.internal" },
	}

	u, err := url.Parse(buildConnectionString(s, cfg))
	require.NoError(t, err)
	assert.Equal(t, "host.docker.internal:5432", u.Host)
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestConnConfig_AppliesLoginTimeout(t *testing.T) {
	s := datasource.Settings{Host: "localhost", Port: 5432, Database: "postgres", Username: "gpadmin", Password: "x"}
	connCfg, err := connConfig(s, datasource.ConnectionConfig{LoginTimeout: 2500 * time.Millisecond, SSLMode: "disable"})
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, connCfg.ConnectTimeout)
	assert.Equal(t, "gpadmin", connCfg.User)
	assert.Equal(t, "postgres", connCfg.Database)
}
