package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-mirror/pkg/adapters/datasource"
)

// Driver opens single pgx sessions against PostgreSQL and Greenplum.
type Driver struct{}

func (Driver) Open(ctx context.Context, s datasource.Settings, cfg datasource.ConnectionConfig) (datasource.Conn, error) {
	connCfg, err := connConfig(s, cfg)
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &session{conn: conn}, nil
}

type session struct {
	conn *pgx.Conn
}

func (s *session) Query(ctx context.Context, sql string, args ...any) (*datasource.QueryResult, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &datasource.QueryResult{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			row[result.Columns[i]] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *session) CopyFrom(ctx context.Context, schema, table string, columns []string, src datasource.RowSource) (int64, error) {
	return s.conn.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, src)
}

func (s *session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

var _ datasource.Driver = Driver{}
