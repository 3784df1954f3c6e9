package mssql

import "strings"

// Introspection SQL is assembled from a version-safe base, appending columns
// and clauses only when the corresponding capability flag is set. Building
// the right query up front beats catching per-column errors on old engines.

// buildListTablesQuery lists user tables. Temporal classification needs the
// temporal_type column, which only exists on servers with temporal tables.
func buildListTablesQuery(c *Capability) string {
	var b strings.Builder
	b.WriteString(`SELECT
	s.name AS schema_name,
	t.name AS table_name,
	t.create_date,
	t.modify_date,
`)
	if c.Supports(FeatureTemporalTables) {
		b.WriteString(`	CASE t.temporal_type
		WHEN 2 THEN 'Temporal'
		WHEN 1 THEN 'History'
		ELSE 'Normal'
	END AS table_type
`)
	} else {
		b.WriteString("	'Normal' AS table_type\n")
	}
	b.WriteString(`FROM sys.tables t
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE t.is_ms_shipped = 0
ORDER BY s.name, t.name`)
	return b.String()
}

// buildListDatabasesQuery lists databases with descriptive metadata. The
// descriptive columns have existed since 2005, so no flag gates them.
func buildListDatabasesQuery(c *Capability) string {
	var b strings.Builder
	b.WriteString(`SELECT
	d.name,
	d.state_desc,
	d.create_date,
	ISNULL(SUSER_SNAME(d.owner_sid), '') AS owner,
	CAST(d.compatibility_level AS NVARCHAR(8)) AS compatibility_level,
	ISNULL(d.collation_name, '') AS collation_name,
	d.recovery_model_desc,
	d.is_read_only
FROM sys.databases d
`)
	if c.Deployment == AzureSQLDatabase {
		// Azure SQL Database only sees master and itself; system databases
		// other than master are not listed there anyway.
		b.WriteString("WHERE d.name = DB_NAME() OR d.name = 'master'\n")
	}
	b.WriteString("ORDER BY d.name")
	return b.String()
}

// tableRowCountsQuery aggregates exact row counts per table from the
// partition stats DMV. Callers must gate it on FeatureExactRowCount.
const tableRowCountsQuery = `SELECT
	s.name AS schema_name,
	t.name AS table_name,
	SUM(ps.row_count) AS row_count
FROM sys.dm_db_partition_stats ps
JOIN sys.tables t ON ps.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE ps.index_id IN (0, 1)
GROUP BY s.name, t.name`

// tableSizesQuery aggregates used pages per table (8 KB pages). Gated on
// FeatureExactRowCount since it reads the same DMV.
const tableSizesQuery = `SELECT
	s.name AS schema_name,
	t.name AS table_name,
	CAST(SUM(ps.used_page_count) * 8.0 / 1024.0 AS FLOAT) AS size_mb
FROM sys.dm_db_partition_stats ps
JOIN sys.tables t ON ps.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
GROUP BY s.name, t.name`

// tableIndexCountsQuery counts indexes per table from the plain catalog view,
// which is queryable on every supported version.
const tableIndexCountsQuery = `SELECT
	s.name AS schema_name,
	t.name AS table_name,
	COUNT(*) AS index_count
FROM sys.indexes i
JOIN sys.tables t ON i.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE i.index_id > 0
GROUP BY s.name, t.name`

const listProceduresQuery = `SELECT
	s.name AS schema_name,
	p.name AS procedure_name,
	p.create_date,
	p.modify_date,
	ISNULL(USER_NAME(p.principal_id), '') AS owner
FROM sys.procedures p
JOIN sys.schemas s ON p.schema_id = s.schema_id
WHERE p.is_ms_shipped = 0
ORDER BY s.name, p.name`

// procedureStatsQuery reads cached execution statistics. Best-effort: the
// DMV needs VIEW SERVER STATE and only covers procedures with a cached plan.
const procedureStatsQuery = `SELECT
	OBJECT_SCHEMA_NAME(ps.object_id) AS schema_name,
	OBJECT_NAME(ps.object_id) AS procedure_name,
	MAX(ps.last_execution_time) AS last_execution_time,
	SUM(ps.execution_count) AS execution_count,
	SUM(ps.total_elapsed_time) / NULLIF(SUM(ps.execution_count), 0) / 1000 AS avg_duration_ms
FROM sys.dm_exec_procedure_stats ps
WHERE ps.database_id = DB_ID()
GROUP BY ps.object_id`

// buildTableIndexesQuery lists index key and included columns for one table.
// STRING_AGG needs 2017+; older engines get the FOR XML PATH fallback.
func buildTableIndexesQuery(c *Capability) string {
	stringAgg := c.MajorVersion >= 14 || c.Deployment == AzureSQLDatabase

	if stringAgg {
		return `SELECT
	i.name AS index_name,
	i.type_desc AS index_type,
	i.is_primary_key,
	i.is_unique,
	i.is_unique_constraint,
	ISNULL(STRING_AGG(CASE WHEN ic.is_included_column = 0 THEN c.name END, ', ')
		WITHIN GROUP (ORDER BY ic.key_ordinal), '') AS key_columns,
	ISNULL(STRING_AGG(CASE WHEN ic.is_included_column = 1 THEN c.name END, ', '), '') AS included_columns
FROM sys.indexes i
JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
JOIN sys.tables t ON i.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @schema AND t.name = @name
GROUP BY i.index_id, i.name, i.type_desc, i.is_primary_key, i.is_unique, i.is_unique_constraint
ORDER BY i.index_id`
	}

	return `SELECT
	i.name AS index_name,
	i.type_desc AS index_type,
	i.is_primary_key,
	i.is_unique,
	i.is_unique_constraint,
	ISNULL(STUFF((
		SELECT ', ' + c.name
		FROM sys.index_columns ic
		JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		WHERE ic.object_id = i.object_id AND ic.index_id = i.index_id AND ic.is_included_column = 0
		ORDER BY ic.key_ordinal
		FOR XML PATH('')), 1, 2, ''), '') AS key_columns,
	ISNULL(STUFF((
		SELECT ', ' + c.name
		FROM sys.index_columns ic
		JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		WHERE ic.object_id = i.object_id AND ic.index_id = i.index_id AND ic.is_included_column = 1
		FOR XML PATH('')), 1, 2, ''), '') AS included_columns
FROM sys.indexes i
JOIN sys.tables t ON i.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @schema AND t.name = @name
ORDER BY i.index_id`
}

const tableForeignKeysQuery = `SELECT
	fk.name AS foreign_key_name,
	OBJECT_SCHEMA_NAME(fk.parent_object_id) + '.' + OBJECT_NAME(fk.parent_object_id) AS table_name,
	COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS column_name,
	OBJECT_SCHEMA_NAME(fk.referenced_object_id) + '.' + OBJECT_NAME(fk.referenced_object_id) AS referenced_table,
	COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS referenced_column,
	fk.delete_referential_action_desc,
	fk.update_referential_action_desc
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
JOIN sys.tables t ON fk.parent_object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @schema AND t.name = @name
ORDER BY fk.name, fkc.constraint_column_id`

const tableStatisticsQuery = `SELECT
	t.name AS table_name,
	ISNULL(SUM(p.rows), 0) AS row_count,
	ISNULL(SUM(a.total_pages), 0) * 8 AS total_space_kb,
	ISNULL(SUM(a.used_pages), 0) * 8 AS used_space_kb
FROM sys.tables t
JOIN sys.schemas s ON t.schema_id = s.schema_id
JOIN sys.indexes i ON t.object_id = i.object_id
JOIN sys.partitions p ON i.object_id = p.object_id AND i.index_id = p.index_id
JOIN sys.allocation_units a ON p.partition_id = a.container_id
WHERE s.name = @schema AND t.name = @name AND i.index_id <= 1
GROUP BY t.name`

const tableColumnsQuery = `SELECT
	c.COLUMN_NAME,
	c.DATA_TYPE,
	CAST(ISNULL(c.CHARACTER_MAXIMUM_LENGTH, -1) AS VARCHAR(20)) AS max_length,
	c.IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @name
ORDER BY c.ORDINAL_POSITION`

// columnDescriptionsQuery reads MS_Description extended properties per
// column. Best-effort enhancement.
const columnDescriptionsQuery = `SELECT
	c.name AS column_name,
	CAST(ep.value AS NVARCHAR(MAX)) AS description
FROM sys.extended_properties ep
JOIN sys.columns c ON ep.major_id = c.object_id AND ep.minor_id = c.column_id
JOIN sys.tables t ON c.object_id = t.object_id
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @schema AND t.name = @name AND ep.name = 'MS_Description'`

// tableDescriptionQuery reads the table-level MS_Description property.
const tableDescriptionQuery = `SELECT CAST(ep.value AS NVARCHAR(MAX))
FROM sys.extended_properties ep
JOIN sys.tables t ON ep.major_id = t.object_id AND ep.minor_id = 0
JOIN sys.schemas s ON t.schema_id = s.schema_id
WHERE s.name = @schema AND t.name = @name AND ep.name = 'MS_Description'`

const parameterMetadataQuery = `SELECT
	p.name,
	p.parameter_id,
	t.name AS data_type,
	p.max_length,
	p.precision,
	p.scale,
	p.is_output,
	p.has_default_value,
	ISNULL(CAST(p.default_value AS NVARCHAR(MAX)), '') AS default_value,
	p.is_nullable
FROM sys.parameters p
JOIN sys.types t ON p.user_type_id = t.user_type_id
JOIN sys.procedures sp ON p.object_id = sp.object_id
JOIN sys.schemas s ON sp.schema_id = s.schema_id
WHERE s.name = @schema AND sp.name = @name
ORDER BY p.parameter_id`
