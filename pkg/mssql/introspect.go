package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ruslano69/mssql-mcp/pkg/mssql/params"
)

// ListDatabases lists all databases on the server with descriptive metadata.
// Database sizes are filled by a best-effort enhancement pass.
func (s *Service) ListDatabases(ctx context.Context, timeout time.Duration) ([]DatabaseInfo, error) {
	caps, err := s.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	rows, err := s.db.QueryContext(opCtx, buildListDatabasesQuery(caps))
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var dbs []DatabaseInfo
	for rows.Next() {
		var d DatabaseInfo
		if err := rows.Scan(&d.Name, &d.State, &d.CreateDate, &d.Owner,
			&d.CompatibilityLevel, &d.CollationName, &d.RecoveryModel, &d.IsReadOnly); err != nil {
			return nil, fmt.Errorf("scan database row: %w", err)
		}
		dbs = append(dbs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate databases: %w", err)
	}

	return s.enhanceDatabaseSizes(opCtx, dbs), nil
}

// enhanceDatabaseSizes fills SizeMB per database. Any failure leaves the
// field nil on the affected entries only.
func (s *Service) enhanceDatabaseSizes(ctx context.Context, dbs []DatabaseInfo) []DatabaseInfo {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, CAST(SUM(mf.size) * 8.0 / 1024.0 AS FLOAT) AS size_mb
		FROM sys.master_files mf
		JOIN sys.databases d ON mf.database_id = d.database_id
		GROUP BY d.name`)
	if err != nil {
		s.log.Debug().Err(err).Msg("database size enhancement failed")
		return dbs
	}
	defer rows.Close()

	byName := make(map[string]float64)
	for rows.Next() {
		var name string
		var mb float64
		if err := rows.Scan(&name, &mb); err != nil {
			continue
		}
		byName[name] = mb
	}

	out := make([]DatabaseInfo, 0, len(dbs))
	for _, d := range dbs {
		if mb, ok := byName[d.Name]; ok {
			v := mb
			d.SizeMB = &v
		}
		out = append(out, d)
	}
	return out
}

// ListTables lists user tables in the target database. The base query is
// capability-conditioned; row counts, sizes and index counts come from
// enhancement passes whose failure degrades the affected field to nil.
func (s *Service) ListTables(ctx context.Context, database string, timeout time.Duration) ([]TableInfo, error) {
	caps, err := s.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	rows, err := cat.q.QueryContext(opCtx, buildListTablesQuery(caps))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []TableInfo
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.CreateDate, &t.ModifyDate, &t.TableType); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables = s.enhanceTableRowCounts(opCtx, cat.q, caps, tables)
	tables = s.enhanceTableSizes(opCtx, cat.q, caps, tables)
	tables = s.enhanceTableIndexCounts(opCtx, cat.q, tables)
	return tables, nil
}

type tableKey struct{ schema, name string }

// enhanceTableRowCounts fills exact row counts from the partition stats DMV.
// Skipped entirely when the capability probe found the DMV unqueryable.
func (s *Service) enhanceTableRowCounts(ctx context.Context, q querier, caps *Capability, tables []TableInfo) []TableInfo {
	if !caps.Supports(FeatureExactRowCount) {
		return tables
	}

	counts := make(map[tableKey]int64)
	rows, err := q.QueryContext(ctx, tableRowCountsQuery)
	if err != nil {
		s.log.Debug().Err(err).Msg("row count enhancement failed")
		return tables
	}
	defer rows.Close()
	for rows.Next() {
		var k tableKey
		var n int64
		if err := rows.Scan(&k.schema, &k.name, &n); err != nil {
			continue
		}
		counts[k] = n
	}

	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		if n, ok := counts[tableKey{t.Schema, t.Name}]; ok {
			v := n
			t.RowCount = &v
		}
		out = append(out, t)
	}
	return out
}

func (s *Service) enhanceTableSizes(ctx context.Context, q querier, caps *Capability, tables []TableInfo) []TableInfo {
	if !caps.Supports(FeatureExactRowCount) {
		return tables
	}

	sizes := make(map[tableKey]float64)
	rows, err := q.QueryContext(ctx, tableSizesQuery)
	if err != nil {
		s.log.Debug().Err(err).Msg("table size enhancement failed")
		return tables
	}
	defer rows.Close()
	for rows.Next() {
		var k tableKey
		var mb float64
		if err := rows.Scan(&k.schema, &k.name, &mb); err != nil {
			continue
		}
		sizes[k] = mb
	}

	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		if mb, ok := sizes[tableKey{t.Schema, t.Name}]; ok {
			v := mb
			t.SizeMB = &v
		}
		out = append(out, t)
	}
	return out
}

func (s *Service) enhanceTableIndexCounts(ctx context.Context, q querier, tables []TableInfo) []TableInfo {
	counts := make(map[tableKey]int)
	rows, err := q.QueryContext(ctx, tableIndexCountsQuery)
	if err != nil {
		s.log.Debug().Err(err).Msg("index count enhancement failed")
		return tables
	}
	defer rows.Close()
	for rows.Next() {
		var k tableKey
		var n int
		if err := rows.Scan(&k.schema, &k.name, &n); err != nil {
			continue
		}
		counts[k] = n
	}

	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		if n, ok := counts[tableKey{t.Schema, t.Name}]; ok {
			v := n
			t.IndexCount = &v
		}
		out = append(out, t)
	}
	return out
}

// GetTableSchema returns the column listing for a table plus any catalog- and
// column-level descriptions from extended properties.
func (s *Service) GetTableSchema(ctx context.Context, table, database string, timeout time.Duration) (*TableSchemaInfo, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table name: %w", ErrEmptyInput)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	schema, name := parseObjectName(table)

	var currentDB string
	if err := cat.q.QueryRowContext(opCtx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return nil, fmt.Errorf("resolve current database: %w", err)
	}

	rows, err := cat.q.QueryContext(opCtx, tableColumnsQuery,
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return nil, fmt.Errorf("get table schema: %w", err)
	}
	defer rows.Close()

	var columns []TableColumnInfo
	for rows.Next() {
		var c TableColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.IsNullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Kind: "table", Name: table}
	}

	info := &TableSchemaInfo{
		TableName:    table,
		DatabaseName: currentDB,
		Columns:      columns,
	}
	s.enhanceDescriptions(opCtx, cat.q, schema, name, info)
	return info, nil
}

// enhanceDescriptions fills MS_Description extended properties. Best-effort.
func (s *Service) enhanceDescriptions(ctx context.Context, q querier, schema, name string, info *TableSchemaInfo) {
	var desc sql.NullString
	err := q.QueryRowContext(ctx, tableDescriptionQuery,
		sql.Named("schema", schema), sql.Named("name", name)).Scan(&desc)
	if err == nil && desc.Valid {
		info.Description = desc.String
	} else if err != nil && err != sql.ErrNoRows {
		s.log.Debug().Err(err).Msg("table description enhancement failed")
	}

	rows, err := q.QueryContext(ctx, columnDescriptionsQuery,
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		s.log.Debug().Err(err).Msg("column description enhancement failed")
		return
	}
	defer rows.Close()

	byColumn := make(map[string]string)
	for rows.Next() {
		var col, d string
		if err := rows.Scan(&col, &d); err != nil {
			continue
		}
		byColumn[col] = d
	}
	for i := range info.Columns {
		if d, ok := byColumn[info.Columns[i].Name]; ok {
			info.Columns[i].Description = d
		}
	}
}

// GetTableIndexes lists the indexes of one table.
func (s *Service) GetTableIndexes(ctx context.Context, table, database string, timeout time.Duration) ([]TableIndex, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table name: %w", ErrEmptyInput)
	}
	caps, err := s.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	schema, name := parseObjectName(table)
	rows, err := cat.q.QueryContext(opCtx, buildTableIndexesQuery(caps),
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return nil, fmt.Errorf("get table indexes: %w", err)
	}
	defer rows.Close()

	var indexes []TableIndex
	for rows.Next() {
		var idx TableIndex
		var keyCols, inclCols string
		if err := rows.Scan(&idx.Name, &idx.Type, &idx.IsPrimaryKey, &idx.IsUnique,
			&idx.IsUniqueConstraint, &keyCols, &inclCols); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		idx.Columns = splitColumnList(keyCols)
		idx.IncludedColumns = splitColumnList(inclCols)
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return indexes, nil
}

func splitColumnList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ", ")
}

// GetTableForeignKeys lists foreign key relationships of one table.
func (s *Service) GetTableForeignKeys(ctx context.Context, table, database string, timeout time.Duration) ([]ForeignKey, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table name: %w", ErrEmptyInput)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	schema, name := parseObjectName(table)
	rows, err := cat.q.QueryContext(opCtx, tableForeignKeysQuery,
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return nil, fmt.Errorf("get foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.ConstraintName, &fk.TableName, &fk.ColumnName,
			&fk.ReferencedTable, &fk.ReferencedColumn, &fk.DeleteAction, &fk.UpdateAction); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

// GetTableStatistics returns size and row count figures for one table.
func (s *Service) GetTableStatistics(ctx context.Context, table, database string, timeout time.Duration) (*TableStatistics, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table name: %w", ErrEmptyInput)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	schema, name := parseObjectName(table)
	var stats TableStatistics
	var tableName string
	err = cat.q.QueryRowContext(opCtx, tableStatisticsQuery,
		sql.Named("schema", schema), sql.Named("name", name)).
		Scan(&tableName, &stats.RowCount, &stats.TotalSpaceKB, &stats.UsedSpaceKB)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "table", Name: schema + "." + name}
	}
	if err != nil {
		return nil, fmt.Errorf("get table statistics: %w", err)
	}
	stats.TableName = schema + "." + tableName
	stats.UnusedSpaceKB = stats.TotalSpaceKB - stats.UsedSpaceKB
	return &stats, nil
}

// ListStoredProcedures lists user procedures, attaching cached execution
// statistics when the stats DMV is queryable.
func (s *Service) ListStoredProcedures(ctx context.Context, database string, timeout time.Duration) ([]StoredProcedureInfo, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	rows, err := cat.q.QueryContext(opCtx, listProceduresQuery)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var procs []StoredProcedureInfo
	for rows.Next() {
		var p StoredProcedureInfo
		if err := rows.Scan(&p.Schema, &p.Name, &p.CreateDate, &p.ModifyDate, &p.Owner); err != nil {
			return nil, fmt.Errorf("scan procedure row: %w", err)
		}
		procs = append(procs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedures: %w", err)
	}

	return s.enhanceProcedureStats(opCtx, cat.q, procs), nil
}

// enhanceProcedureStats fills execution statistics per procedure.
// Best-effort: the DMV needs VIEW SERVER STATE, which many logins lack.
func (s *Service) enhanceProcedureStats(ctx context.Context, q querier, procs []StoredProcedureInfo) []StoredProcedureInfo {
	rows, err := q.QueryContext(ctx, procedureStatsQuery)
	if err != nil {
		s.log.Debug().Err(err).Msg("procedure stats enhancement failed")
		return procs
	}
	defer rows.Close()

	type stats struct {
		last  time.Time
		count int64
		avgMS int64
	}
	byProc := make(map[tableKey]stats)
	for rows.Next() {
		var k tableKey
		var st stats
		var last sql.NullTime
		var avg sql.NullInt64
		if err := rows.Scan(&k.schema, &k.name, &last, &st.count, &avg); err != nil {
			continue
		}
		st.last = last.Time
		st.avgMS = avg.Int64
		byProc[k] = st
	}

	out := make([]StoredProcedureInfo, 0, len(procs))
	for _, p := range procs {
		if st, ok := byProc[tableKey{p.Schema, p.Name}]; ok {
			last, count, avg := st.last, st.count, st.avgMS
			p.LastExecutionTime = &last
			p.ExecutionCount = &count
			p.AverageDurationMS = &avg
		}
		out = append(out, p)
	}
	return out
}

// GetProcedureParameters returns the user-facing parameter listing for one
// procedure. The implicit return-value slot (ordinal 0) is excluded.
func (s *Service) GetProcedureParameters(ctx context.Context, procedure, database string, timeout time.Duration) ([]StoredProcedureParameterInfo, error) {
	if strings.TrimSpace(procedure) == "" {
		return nil, fmt.Errorf("procedure name: %w", ErrEmptyInput)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))
	defer cancel()

	cat, err := s.acquireCatalog(opCtx, database)
	if err != nil {
		return nil, err
	}
	defer cat.release()

	schema, name := parseObjectName(procedure)
	meta, err := s.parameterMetadata(opCtx, cat.q, schema, name)
	if err != nil {
		return nil, err
	}

	var out []StoredProcedureParameterInfo
	for _, m := range meta {
		if m.Ordinal == 0 {
			continue
		}
		out = append(out, StoredProcedureParameterInfo{
			Name:         m.Name,
			DataType:     m.DataType,
			Length:       m.MaxLength,
			Precision:    m.Precision,
			Scale:        m.Scale,
			IsOutput:     m.IsOutput,
			IsNullable:   m.IsNullable,
			DefaultValue: m.DefaultValue,
		})
	}
	return out, nil
}

// parameterMetadata reads the procedure's parameter catalog used by the
// binding pipeline.
func (s *Service) parameterMetadata(ctx context.Context, q querier, schema, name string) ([]params.Metadata, error) {
	rows, err := q.QueryContext(ctx, parameterMetadataQuery,
		sql.Named("schema", schema), sql.Named("name", name))
	if err != nil {
		return nil, fmt.Errorf("get parameter metadata for %s.%s: %w", schema, name, err)
	}
	defer rows.Close()

	var meta []params.Metadata
	for rows.Next() {
		var m params.Metadata
		if err := rows.Scan(&m.Name, &m.Ordinal, &m.DataType, &m.MaxLength,
			&m.Precision, &m.Scale, &m.IsOutput, &m.HasDefault, &m.DefaultValue, &m.IsNullable); err != nil {
			return nil, fmt.Errorf("scan parameter row: %w", err)
		}
		meta = append(meta, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parameters: %w", err)
	}
	return meta, nil
}
