package logging

import (
	"regexp"

	"go.uber.org/zap"
)

const (
	// MaxQueryLogLength caps how much of a SQL statement is logged.
	MaxQueryLogLength = 120
	RedactedText      = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx in keyword/value and query-string forms
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in URL connection strings
	userInfoPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)

	// LOCATION ('http://...?token=...') in external table DDL
	locationTokenPattern = regexp.MustCompile(`(?i)(token|signature|sig)=[^&'\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeError strips credentials that drivers sometimes echo back in error text.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeConnectionString(err.Error())
}

// SanitizeQuery truncates a statement and removes secrets embedded in it.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := query
	if len(sanitized) > MaxQueryLogLength {
		sanitized = sanitized[:MaxQueryLogLength] + "..."
	}
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return locationTokenPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
}

// Error is zap.Error with the message sanitized.
func Error(err error) zap.Field {
	return zap.String("error", SanitizeError(err))
}
