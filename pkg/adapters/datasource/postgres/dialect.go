package postgres

import (
	"github.com/jackc/pgx/v5"
)

// Dialect holds the catalog SQL shared by PostgreSQL and Greenplum.
// Greenplum additionally reports web/external tables through pg_exttable.
type Dialect struct {
	Greenplum bool
}

func (d Dialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (d Dialect) DatabasesSQL() string {
	return `
		SELECT
			datname AS database_name
		FROM
			pg_database
		WHERE
			datallowconn IS TRUE AND datname NOT IN ('postgres', 'template1')
		ORDER BY lower(datname) ASC`
}

func (d Dialect) DatabaseGrantsSQL() (string, error) {
	return `
		SELECT
			r.rolname AS db_username,
			d.datname AS database_name
		FROM pg_catalog.pg_roles r
		INNER JOIN pg_catalog.pg_database d
			ON has_database_privilege(r.oid, d.oid, 'CONNECT')
		WHERE d.datname <> 'postgres'
			AND d.datistemplate = false
			AND d.datallowconn = true
			AND r.rolname = ANY($1)
		ORDER BY d.datname, r.rolname`, nil
}

func (d Dialect) SchemasSQL() string {
	return `
		SELECT
			schemas.nspname AS schema_name
		FROM
			pg_namespace schemas
		WHERE
			schemas.nspname NOT LIKE 'pg_%'
			AND schemas.nspname NOT IN ('information_schema', 'gp_toolkit', 'gpperfmon')
		ORDER BY lower(schemas.nspname)`
}

func (d Dialect) FunctionsSQL() string {
	return `
		SELECT
			p.oid::bigint AS oid,
			p.proname,
			l.lanname,
			t.typname AS rettype,
			array_to_string(p.proargnames, ',') AS proargnames,
			array_to_string(ARRAY(
				SELECT format_type(a.argtype, NULL)
				FROM unnest(p.proargtypes::oid[]) WITH ORDINALITY AS a(argtype, pos)
				ORDER BY a.pos
			), ',') AS argtypes,
			p.prosrc,
			d.description
		FROM pg_proc p
		JOIN pg_namespace n ON p.pronamespace = n.oid
		JOIN pg_language l ON p.prolang = l.oid
		JOIN pg_type t ON p.prorettype = t.oid
		LEFT JOIN pg_description d ON d.objoid = p.oid
		WHERE n.nspname = $1
		ORDER BY p.oid`
}

func (d Dialect) DiskSpaceSQL() string {
	return `
		SELECT coalesce(sum(pg_total_relation_size(pg_catalog.pg_class.oid)), 0)::bigint AS size
		FROM pg_catalog.pg_class
		LEFT JOIN pg_catalog.pg_namespace ON relnamespace = pg_catalog.pg_namespace.oid
		WHERE pg_catalog.pg_namespace.nspname = $1`
}

func (d Dialect) DatasetsSQL() string {
	if d.Greenplum {
		return `
			SELECT
				c.relname AS name,
				CASE
					WHEN c.relkind = 'v' THEN 'view'
					WHEN x.reloid IS NOT NULL THEN 'external_table'
					ELSE 'table'
				END AS kind
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			LEFT JOIN pg_catalog.pg_exttable x ON x.reloid = c.oid
			WHERE n.nspname = $1
				AND c.relkind IN ('r', 'v')
			ORDER BY lower(c.relname)`
	}
	return `
		SELECT
			c.relname AS name,
			CASE
				WHEN c.relkind IN ('v', 'm') THEN 'view'
				WHEN c.relkind = 'f' THEN 'external_table'
				ELSE 'table'
			END AS kind
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
			AND c.relkind IN ('r', 'p', 'v', 'm', 'f')
		ORDER BY lower(c.relname)`
}

func (d Dialect) TableExistsSQL() string {
	return `
		SELECT count(*) AS count
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2 AND table_type <> 'VIEW'`
}

func (d Dialect) ViewExistsSQL() string {
	return `
		SELECT count(*) AS count
		FROM information_schema.views
		WHERE table_schema = $1 AND table_name = $2`
}

func (d Dialect) SearchPathSQL(schema string) string {
	return "SET search_path TO " + d.QuoteIdentifier(schema)
}

func (d Dialect) AnalyzeSQL(qualifiedTable string) string {
	return "ANALYZE " + qualifiedTable
}
