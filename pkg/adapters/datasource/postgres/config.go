package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

// DefaultPort returns the default PostgreSQL/Greenplum port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode applies when the connection config leaves ssl mode empty.
func DefaultSSLMode() string {
	return "prefer"
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so passwords containing @, /, # or ?
// survive URL parsing.
func buildConnectionString(s datasource.Settings, cfg datasource.ConnectionConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}

	host := s.Host
	if cfg.ResolveHost != nil {
		host = cfg.ResolveHost(host)
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	if cfg.LoginTimeout > 0 {
		seconds := int(cfg.LoginTimeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connect_timeout", strconv.Itoa(seconds))
	}

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(s.Username, s.Password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + s.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// connConfig parses the connection string into a pgx config for a single,
// unpooled session.
func connConfig(s datasource.Settings, cfg datasource.ConnectionConfig) (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(buildConnectionString(s, cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection settings: %w", err)
	}
	if cfg.LoginTimeout > 0 {
		connCfg.ConnectTimeout = cfg.LoginTimeout
	}
	// Catalog and DDL statements run once per session; skip the statement cache.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	return connCfg, nil
}
