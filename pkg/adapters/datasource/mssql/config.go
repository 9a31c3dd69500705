package mssql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// encryptSetting maps a libpq-style ssl mode onto the go-mssqldb encrypt option.
func encryptSetting(sslMode string) string {
	switch strings.ToLower(sslMode) {
	case "disable":
		return "disable"
	case "require", "verify-ca", "verify-full":
		return "true"
	default:
		return "false"
	}
}

// buildConnectionString builds a sqlserver:// URL using SQL authentication.
// Login timeout maps onto both the dial and the login ("connection") timeout.
func buildConnectionString(s datasource.Settings, cfg datasource.ConnectionConfig) string {
	host := s.Host
	if cfg.ResolveHost != nil {
		host = cfg.ResolveHost(host)
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort()
	}

	query := url.Values{}
	query.Add("database", s.Database)
	query.Add("encrypt", encryptSetting(cfg.SSLMode))
	if strings.EqualFold(cfg.SSLMode, "require") {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.LoginTimeout > 0 {
		seconds := int(cfg.LoginTimeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		query.Add("dial timeout", strconv.Itoa(seconds))
		query.Add("connection timeout", strconv.Itoa(seconds))
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(s.Username, s.Password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// quoteName mirrors QUOTENAME(): square brackets with ] escaped as ]].
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// buildFullyQualifiedName builds [schema].[table].
func buildFullyQualifiedName(schema, table string) string {
	return fmt.Sprintf("%s.%s", quoteName(schema), quoteName(table))
}
