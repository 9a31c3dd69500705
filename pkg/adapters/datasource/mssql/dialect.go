package mssql

import (
	"fmt"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

// Dialect holds SQL Server catalog SQL. Parameters use @p1..@pN.
type Dialect struct{}

func (Dialect) QuoteIdentifier(name string) string {
	return quoteName(name)
}

func (Dialect) DatabasesSQL() string {
	return `
		SELECT name AS database_name
		FROM sys.databases
		WHERE database_id > 4 AND state_desc = 'ONLINE'
		ORDER BY LOWER(name)`
}

// DatabaseGrantsSQL is unsupported: CONNECT on SQL Server is granted per
// database user, so it cannot be answered from one catalog query.
func (Dialect) DatabaseGrantsSQL() (string, error) {
	return "", fmt.Errorf("%w: sqlserver role grant introspection", apperrors.ErrUnsupported)
}

func (Dialect) SchemasSQL() string {
	return `
		SELECT s.name AS schema_name
		FROM sys.schemas s
		WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
			AND s.name NOT LIKE 'db[_]%'
		ORDER BY LOWER(s.name)`
}

func (Dialect) FunctionsSQL() string {
	return `
		SELECT
			CAST(o.object_id AS bigint) AS oid,
			o.name AS proname,
			'tsql' AS lanname,
			COALESCE(TYPE_NAME(ret.user_type_id), 'table') AS rettype,
			STUFF((
				SELECT ',' + SUBSTRING(p.name, 2, 128)
				FROM sys.parameters p
				WHERE p.object_id = o.object_id AND p.parameter_id > 0
				ORDER BY p.parameter_id
				FOR XML PATH('')), 1, 1, '') AS proargnames,
			STUFF((
				SELECT ',' + TYPE_NAME(p.user_type_id)
				FROM sys.parameters p
				WHERE p.object_id = o.object_id AND p.parameter_id > 0
				ORDER BY p.parameter_id
				FOR XML PATH('')), 1, 1, '') AS argtypes,
			m.definition AS prosrc,
			CAST(ep.value AS nvarchar(4000)) AS description
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		LEFT JOIN sys.sql_modules m ON m.object_id = o.object_id
		LEFT JOIN sys.parameters ret ON ret.object_id = o.object_id AND ret.parameter_id = 0
		LEFT JOIN sys.extended_properties ep
			ON ep.major_id = o.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
		WHERE s.name = @p1 AND o.type IN ('FN', 'IF', 'TF', 'P')
		ORDER BY o.object_id`
}

func (Dialect) DiskSpaceSQL() string {
	return `
		SELECT CAST(COALESCE(SUM(CAST(a.total_pages AS bigint)), 0) * 8192 AS bigint) AS size
		FROM sys.allocation_units a
		JOIN sys.partitions p ON a.container_id = p.partition_id
		JOIN sys.objects o ON o.object_id = p.object_id
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		WHERE s.name = @p1`
}

func (Dialect) DatasetsSQL() string {
	return `
		SELECT
			TABLE_NAME AS name,
			CASE TABLE_TYPE WHEN 'VIEW' THEN 'view' ELSE 'table' END AS kind
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		ORDER BY LOWER(TABLE_NAME)`
}

func (Dialect) TableExistsSQL() string {
	return `
		SELECT COUNT(*) AS count
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND TABLE_TYPE = 'BASE TABLE'`
}

func (Dialect) ViewExistsSQL() string {
	return `
		SELECT COUNT(*) AS count
		FROM INFORMATION_SCHEMA.VIEWS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2`
}

// SearchPathSQL is empty: SQL Server has no session-level default schema, so
// callers qualify names explicitly.
func (Dialect) SearchPathSQL(string) string {
	return ""
}

func (Dialect) AnalyzeSQL(qualifiedTable string) string {
	return "UPDATE STATISTICS " + qualifiedTable
}
