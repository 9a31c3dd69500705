package mssql

import (
	"context"
	"database/sql"
	"fmt"

	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

// Driver opens single SQL Server sessions through go-mssqldb.
type Driver struct{}

func (Driver) Open(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error) {
	connector, err := mssqldb.NewConnector(buildConnectionString(s, cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection settings: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Pin one physical session so temp tables and session settings survive
	// across statements of a unit of work.
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}
	return &session{db: db, conn: conn}, nil
}

type session struct {
	db   *sql.DB
	conn *sql.Conn
}

func (s *session) Query(ctx context.Context, query string, args ...any) (*datasource.QueryResult, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	result := &datasource.QueryResult{Columns: columns}

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected: %w", err)
	}
	return n, nil
}

// CopyFrom streams rows through the TDS bulk-load path (mssql.CopyIn).
func (s *session) CopyFrom(ctx context.Context, schema, table string, columns []string, src datasource.RowSource) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk load: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	stmt, err := tx.PrepareContext(ctx, mssqldb.CopyIn(buildFullyQualifiedName(schema, table), mssqldb.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk load: %w", err)
	}
	defer stmt.Close()

	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("bulk load row: %w", err)
		}
	}
	if err := src.Err(); err != nil {
		return 0, err
	}

	// An Exec without arguments flushes the batch.
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("flush bulk load: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk load: %w", err)
	}
	return n, nil
}

func (s *session) Close(ctx context.Context) error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

var _ datasource.Driver = Driver{}
