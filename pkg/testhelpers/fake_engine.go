package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

// Statement SQL produced by FakeDialect, so handlers can switch on it.
const (
	FakeDatabasesSQL   = "FAKE DATABASES"
	FakeGrantsSQL      = "FAKE GRANTS"
	FakeSchemasSQL     = "FAKE SCHEMAS"
	FakeFunctionsSQL   = "FAKE FUNCTIONS"
	FakeDiskSpaceSQL   = "FAKE DISK SPACE"
	FakeDatasetsSQL    = "FAKE DATASETS"
	FakeTableExistsSQL = "FAKE TABLE EXISTS"
	FakeViewExistsSQL  = "FAKE VIEW EXISTS"
)

// FakeStatement records one statement sent to a FakeEngine session.
type FakeStatement struct {
	Settings datasource.Settings
	SQL      string
	Args     []any
}

// FakeEngine is an in-memory remote engine for connection-layer and service
// tests. It counts sessions so tests can assert nothing leaks.
type FakeEngine struct {
	// OpenErr, when set, decides whether a session may be opened.
	OpenErr func(s datasource.Settings) error
	// OnQuery answers Query calls. Nil returns an empty result.
	OnQuery func(s datasource.Settings, sql string, args []any) (*datasource.QueryResult, error)
	// OnExec answers Exec calls. Nil returns 0 rows affected.
	OnExec func(s datasource.Settings, sql string, args []any) (int64, error)
	// Unsupported grants makes DatabaseGrantsSQL fail like SQL Server.
	UnsupportedGrants bool

	mu         sync.Mutex
	opened     int
	closed     int
	statements []FakeStatement
	copied     map[string][][]any
}

// Lookup resolves every engine type to this fake.
func (e *FakeEngine) Lookup(engine string) (datasource.EngineRegistration, bool) {
	return datasource.EngineRegistration{
		Info:          datasource.EngineInfo{Type: engine, DisplayName: "Fake " + engine},
		Driver:        e,
		Dialect:       &FakeDialect{UnsupportedGrants: e.UnsupportedGrants},
		MaintenanceDB: "maintenance",
	}, true
}

func (e *FakeEngine) Open(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error) {
	if e.OpenErr != nil {
		if err := e.OpenErr(s); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
	return &fakeConn{engine: e, settings: s}, nil
}

// OpenSessions returns sessions opened but not yet closed.
func (e *FakeEngine) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}

// Opened returns the total number of sessions opened.
func (e *FakeEngine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Statements returns every statement executed so far, in order.
func (e *FakeEngine) Statements() []FakeStatement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FakeStatement(nil), e.statements...)
}

// StatementsMatching returns the SQL of statements containing substr.
func (e *FakeEngine) StatementsMatching(substr string) []string {
	var out []string
	for _, st := range e.Statements() {
		if strings.Contains(st.SQL, substr) {
			out = append(out, st.SQL)
		}
	}
	return out
}

// Copied returns rows bulk-loaded into schema.table.
func (e *FakeEngine) Copied(schema, table string) [][]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copied[schema+"."+table]
}

func (e *FakeEngine) record(s datasource.Settings, sql string, args []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statements = append(e.statements, FakeStatement{Settings: s, SQL: sql, Args: args})
}

type fakeConn struct {
	engine   *FakeEngine
	settings datasource.Settings
	closed   bool
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (*datasource.QueryResult, error) {
	c.engine.record(c.settings, sql, args)
	if c.engine.OnQuery == nil {
		return &datasource.QueryResult{}, nil
	}
	result, err := c.engine.OnQuery(c.settings, sql, args)
	if result == nil && err == nil {
		result = &datasource.QueryResult{}
	}
	return result, err
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	c.engine.record(c.settings, sql, args)
	if c.engine.OnExec == nil {
		return 0, nil
	}
	return c.engine.OnExec(c.settings, sql, args)
}

func (c *fakeConn) CopyFrom(ctx context.Context, schema, table string, columns []string, src datasource.RowSource) (int64, error) {
	var rows [][]any
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, values)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	c.engine.record(c.settings, fmt.Sprintf("COPY %s.%s (%s)", schema, table, strings.Join(columns, ", ")), nil)

	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.engine.copied == nil {
		c.engine.copied = make(map[string][][]any)
	}
	key := schema + "." + table
	c.engine.copied[key] = append(c.engine.copied[key], rows...)
	return int64(len(rows)), nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	if c.closed {
		return fmt.Errorf("session closed twice")
	}
	c.closed = true
	c.engine.mu.Lock()
	c.engine.closed++
	c.engine.mu.Unlock()
	return nil
}

// FakeDialect emits recognisable placeholder SQL and PostgreSQL-style DDL quoting.
type FakeDialect struct {
	UnsupportedGrants bool
}

func (d *FakeDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *FakeDialect) DatabasesSQL() string { return FakeDatabasesSQL }

func (d *FakeDialect) DatabaseGrantsSQL() (string, error) {
	if d.UnsupportedGrants {
		return "", fmt.Errorf("%w: role grant introspection", apperrors.ErrUnsupported)
	}
	return FakeGrantsSQL, nil
}

func (d *FakeDialect) SchemasSQL() string     { return FakeSchemasSQL }
func (d *FakeDialect) FunctionsSQL() string   { return FakeFunctionsSQL }
func (d *FakeDialect) DiskSpaceSQL() string   { return FakeDiskSpaceSQL }
func (d *FakeDialect) DatasetsSQL() string    { return FakeDatasetsSQL }
func (d *FakeDialect) TableExistsSQL() string { return FakeTableExistsSQL }
func (d *FakeDialect) ViewExistsSQL() string  { return FakeViewExistsSQL }

func (d *FakeDialect) SearchPathSQL(schema string) string {
	return "SET search_path TO " + d.QuoteIdentifier(schema)
}

func (d *FakeDialect) AnalyzeSQL(qualifiedTable string) string {
	return "ANALYZE " + qualifiedTable
}

// Rows builds a QueryResult from column names and positional row values.
func Rows(columns []string, values ...[]any) *datasource.QueryResult {
	result := &datasource.QueryResult{Columns: columns}
	for _, v := range values {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(v) {
				row[col] = v[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}
