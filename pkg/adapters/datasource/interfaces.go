package datasource

import (
	"context"
	"time"
)

// Settings identify the remote session a handle opens: the engine address,
// the target database and schema, and the credential to log in with.
type Settings struct {
	Host     string
	Port     int
	Database string
	Schema   string
	Username string
	Password string
}

// ConnectionConfig carries per-process connection policy into every handle.
type ConnectionConfig struct {
	// LoginTimeout bounds session establishment. Zero means no bound beyond ctx.
	LoginTimeout time.Duration
	SSLMode      string
	// ResolveHost optionally rewrites the configured host before dialing.
	ResolveHost func(host string) string
}

// Driver opens live sessions against one engine family.
type Driver interface {
	// Open establishes a single session. Any error is treated as the remote
	// engine being unreachable.
	Open(ctx context.Context, settings Settings, cfg ConnectionConfig) (Conn, error)
}

// Conn is one live, non-pooled session on a remote engine.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (*QueryResult, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// CopyFrom bulk-loads rows into schema.table using the engine's native bulk path.
	CopyFrom(ctx context.Context, schema, table string, columns []string, src RowSource) (int64, error)
	Close(ctx context.Context) error
}

// RowSource feeds CopyFrom. It matches pgx.CopyFromSource.
type RowSource interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

// QueryResult contains the fully read result of a query.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Strings returns the named column of every row rendered as text. NULLs become "".
func (r *QueryResult) Strings(column string) []string {
	out := make([]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, asString(row[column]))
	}
	return out
}

// Dialect supplies the engine-specific SQL text the handles run.
// Placeholders inside returned SQL use the engine's own parameter syntax.
type Dialect interface {
	// QuoteIdentifier quotes a single identifier (schema, table, column, view).
	QuoteIdentifier(name string) string

	// DatabasesSQL lists connectable, non-system databases as database_name.
	DatabasesSQL() string

	// DatabaseGrantsSQL joins the role catalog against the database catalog and
	// yields (database_name, db_username) pairs for the usernames bound to the
	// first parameter. Returns apperrors.ErrUnsupported when the engine has no
	// equivalent introspection.
	DatabaseGrantsSQL() (string, error)

	// SchemasSQL lists user schemas as schema_name.
	SchemasSQL() string

	// FunctionsSQL lists routines of the schema bound to the first parameter.
	FunctionsSQL() string

	// DiskSpaceSQL returns total relation size in bytes (column size) for the schema parameter.
	DiskSpaceSQL() string

	// DatasetsSQL lists name and kind (table, view, external_table) for the schema parameter.
	DatasetsSQL() string

	// TableExistsSQL and ViewExistsSQL count matches for (schema, name) parameters.
	TableExistsSQL() string
	ViewExistsSQL() string

	// SearchPathSQL makes schema the default for unqualified names in the
	// session. Empty when the engine has no such setting.
	SearchPathSQL(schema string) string

	// AnalyzeSQL refreshes planner statistics for a qualified table.
	AnalyzeSQL(qualifiedTable string) string
}
