package datasource

import (
	"context"
	"errors"

	"github.com/ekaya-inc/catalog-mirror/pkg/logging"
)

// SchemaConnection is scoped to one schema. Statements that touch unqualified
// names run with the schema as the session default where the engine allows it.
type SchemaConnection struct {
	*Connection
}

// Session is a live schema-scoped session handed to Run callbacks.
type Session interface {
	Schema() string
	Dialect() Dialect
	// Qualify quotes name inside the session's schema.
	Qualify(name string) string
	Query(ctx context.Context, sql string, args ...any) (*QueryResult, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	CopyFrom(ctx context.Context, table string, columns []string, src RowSource) (int64, error)
}

func (c *SchemaConnection) schemaName() string {
	return c.settings.Schema
}

// Functions lists the routines defined in the schema.
func (c *SchemaConnection) Functions(ctx context.Context) ([]FunctionInfo, error) {
	result, err := c.Fetch(ctx, c.dialect.FunctionsSQL(), c.schemaName())
	if err != nil {
		return nil, err
	}

	functions := make([]FunctionInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		oid, _ := asInt64(row["oid"])
		functions = append(functions, FunctionInfo{
			OID:         oid,
			Name:        asString(row["proname"]),
			Language:    asString(row["lanname"]),
			ReturnType:  asString(row["rettype"]),
			ArgNames:    splitList(row["proargnames"]),
			ArgTypes:    splitList(row["argtypes"]),
			Definition:  asString(row["prosrc"]),
			Description: asString(row["description"]),
		})
	}
	return functions, nil
}

// DiskSpaceUsed returns the total on-disk size of the schema's relations in bytes.
func (c *SchemaConnection) DiskSpaceUsed(ctx context.Context) (int64, error) {
	result, err := c.Fetch(ctx, c.dialect.DiskSpaceSQL(), c.schemaName())
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		return 0, nil
	}
	size, err := asInt64(result.Rows[0]["size"])
	if err != nil {
		return 0, wrapQuery("disk space used", err)
	}
	return size, nil
}

// Datasets lists the tables, views and external tables of the schema.
func (c *SchemaConnection) Datasets(ctx context.Context) ([]DatasetInfo, error) {
	result, err := c.Fetch(ctx, c.dialect.DatasetsSQL(), c.schemaName())
	if err != nil {
		return nil, err
	}
	datasets := make([]DatasetInfo, 0, len(result.Rows))
	for _, row := range result.Rows {
		datasets = append(datasets, DatasetInfo{
			Name: asString(row["name"]),
			Kind: asString(row["kind"]),
		})
	}
	return datasets, nil
}

// CreateView creates name AS query. Any remote failure becomes a
// *CannotCreateViewError carrying the engine's message.
func (c *SchemaConnection) CreateView(ctx context.Context, name, query string) error {
	err := c.withSchema(ctx, func(s *schemaSession) error {
		_, err := s.conn.Exec(ctx, "CREATE VIEW "+s.Qualify(name)+" AS "+query)
		return err
	})
	if err == nil || IsUnreachable(err) {
		return err
	}
	return &CannotCreateViewError{
		View:    name,
		Message: logging.SanitizeError(unwrapQuery(err)),
		Err:     err,
	}
}

func (c *SchemaConnection) DropView(ctx context.Context, name string) error {
	return c.execDDL(ctx, "drop view", "DROP VIEW IF EXISTS "+c.qualify(c.schemaName(), name))
}

func (c *SchemaConnection) ViewExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, c.dialect.ViewExistsSQL(), name)
}

// CreateTable creates name with the given column definitions, e.g. `"id" numeric, "note" text`.
func (c *SchemaConnection) CreateTable(ctx context.Context, name, columnDefinitions string) error {
	return c.execDDL(ctx, "create table",
		"CREATE TABLE "+c.qualify(c.schemaName(), name)+" ("+columnDefinitions+")")
}

// DropTable drops the table if it exists.
func (c *SchemaConnection) DropTable(ctx context.Context, name string) error {
	return c.execDDL(ctx, "drop table", "DROP TABLE IF EXISTS "+c.qualify(c.schemaName(), name))
}

func (c *SchemaConnection) TableExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, c.dialect.TableExistsSQL(), name)
}

// AnalyzeTable forces a statistics refresh on a table of the schema.
func (c *SchemaConnection) AnalyzeTable(ctx context.Context, name string) error {
	_, err := c.Connection.Execute(ctx, c.dialect.AnalyzeSQL(c.qualify(c.schemaName(), name)))
	return err
}

// Fetch runs a query with the schema as the session default.
func (c *SchemaConnection) Fetch(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	var result *QueryResult
	err := c.withSchema(ctx, func(s *schemaSession) error {
		var err error
		result, err = s.Query(ctx, sql, args...)
		return err
	})
	return result, err
}

// Execute runs a statement with the schema as the session default.
func (c *SchemaConnection) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := c.withSchema(ctx, func(s *schemaSession) error {
		var err error
		affected, err = s.Exec(ctx, sql, args...)
		return err
	})
	return affected, err
}

// Run hands fn a single schema-scoped session for a multi-statement unit of
// work. The session is released when Run returns, whatever fn does.
func (c *SchemaConnection) Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	return c.withSchema(ctx, func(s *schemaSession) error {
		return fn(ctx, s)
	})
}

func (c *SchemaConnection) withSchema(ctx context.Context, fn func(*schemaSession) error) error {
	return c.withConnection(ctx, func(conn Conn) error {
		s := &schemaSession{conn: conn, schema: c.schemaName(), dialect: c.dialect}
		if stmt := c.dialect.SearchPathSQL(s.schema); stmt != "" {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return wrapQuery("set search path", err)
			}
		}
		return fn(s)
	})
}

func (c *SchemaConnection) execDDL(ctx context.Context, op, stmt string) error {
	return c.withSchema(ctx, func(s *schemaSession) error {
		_, err := s.conn.Exec(ctx, stmt)
		return wrapQuery(op, err)
	})
}

func (c *SchemaConnection) exists(ctx context.Context, sql, name string) (bool, error) {
	result, err := c.Connection.Fetch(ctx, sql, c.schemaName(), name)
	if err != nil {
		return false, err
	}
	if len(result.Rows) == 0 {
		return false, nil
	}
	for _, v := range result.Rows[0] {
		n, err := asInt64(v)
		if err != nil {
			return false, wrapQuery("exists", err)
		}
		return n > 0, nil
	}
	return false, nil
}

type schemaSession struct {
	conn    Conn
	schema  string
	dialect Dialect
}

func (s *schemaSession) Schema() string   { return s.schema }
func (s *schemaSession) Dialect() Dialect { return s.dialect }

func (s *schemaSession) Qualify(name string) string {
	return s.dialect.QuoteIdentifier(s.schema) + "." + s.dialect.QuoteIdentifier(name)
}

func (s *schemaSession) Query(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	result, err := s.conn.Query(ctx, sql, args...)
	return result, wrapQuery("fetch", err)
}

func (s *schemaSession) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	affected, err := s.conn.Exec(ctx, sql, args...)
	return affected, wrapQuery("execute", err)
}

func (s *schemaSession) CopyFrom(ctx context.Context, table string, columns []string, src RowSource) (int64, error) {
	n, err := s.conn.CopyFrom(ctx, s.schema, table, columns, src)
	return n, wrapQuery("copy into "+table, err)
}

// unwrapQuery returns the remote cause of a QueryError, or err itself.
func unwrapQuery(err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Err
	}
	return err
}
