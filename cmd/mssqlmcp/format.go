package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ruslano69/mssql-mcp/pkg/mssql"
	"github.com/ruslano69/mssql-mcp/pkg/session"
)

const dateLayout = "2006-01-02"

func formatDatabases(dbs []mssql.DatabaseInfo) string {
	if len(dbs) == 0 {
		return "No databases found."
	}
	var b strings.Builder
	b.WriteString("Available Databases:\n\n")
	b.WriteString("Name | State | Size (MB) | Owner | Recovery | Read-Only\n")
	b.WriteString("---- | ----- | --------- | ----- | -------- | ---------\n")
	for _, db := range dbs {
		size := "N/A"
		if db.SizeMB != nil {
			size = fmt.Sprintf("%.2f", *db.SizeMB)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			db.Name, db.State, size, db.Owner, db.RecoveryModel, yesNo(db.IsReadOnly))
	}
	return b.String()
}

func formatTables(tables []mssql.TableInfo) string {
	if len(tables) == 0 {
		return "No tables found."
	}
	var b strings.Builder
	b.WriteString("Available Tables:\n\n")
	b.WriteString("Schema | Table Name | Type | Row Count | Size (MB) | Indexes\n")
	b.WriteString("------ | ---------- | ---- | --------- | --------- | -------\n")
	for _, t := range tables {
		rows, size, indexes := "N/A", "N/A", "N/A"
		if t.RowCount != nil {
			rows = fmt.Sprintf("%d", *t.RowCount)
		}
		if t.SizeMB != nil {
			size = fmt.Sprintf("%.2f", *t.SizeMB)
		}
		if t.IndexCount != nil {
			indexes = fmt.Sprintf("%d", *t.IndexCount)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			t.Schema, t.Name, t.TableType, rows, size, indexes)
	}
	return b.String()
}

func formatTableSchema(schema *mssql.TableSchemaInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema for table: %s", schema.TableName)
	if schema.DatabaseName != "" {
		fmt.Fprintf(&b, " (database: %s)", schema.DatabaseName)
	}
	b.WriteString("\n")
	if schema.Description != "" {
		fmt.Fprintf(&b, "\nDescription: %s\n", schema.Description)
	}
	b.WriteString("\nColumn Name | Data Type | Max Length | Is Nullable | Description\n")
	b.WriteString("----------- | --------- | ---------- | ----------- | -----------\n")
	for _, c := range schema.Columns {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n",
			c.Name, c.DataType, c.MaxLength, c.IsNullable, c.Description)
	}
	return b.String()
}

func formatIndexes(table string, indexes []mssql.TableIndex) string {
	if len(indexes) == 0 {
		return fmt.Sprintf("No indexes found on table %s.", table)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Indexes on table %s:\n\n", table)
	b.WriteString("Name | Type | Unique | Primary Key | Columns | Included Columns\n")
	b.WriteString("---- | ---- | ------ | ----------- | ------- | ----------------\n")
	for _, idx := range indexes {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			idx.Name, idx.Type, yesNo(idx.IsUnique), yesNo(idx.IsPrimaryKey),
			strings.Join(idx.Columns, ", "), strings.Join(idx.IncludedColumns, ", "))
	}
	return b.String()
}

func formatForeignKeys(table string, fks []mssql.ForeignKey) string {
	if len(fks) == 0 {
		return fmt.Sprintf("No foreign keys found on table %s.", table)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Foreign keys on table %s:\n\n", table)
	b.WriteString("Constraint | Column | References | On Delete | On Update\n")
	b.WriteString("---------- | ------ | ---------- | --------- | ---------\n")
	for _, fk := range fks {
		fmt.Fprintf(&b, "%s | %s | %s.%s | %s | %s\n",
			fk.ConstraintName, fk.ColumnName, fk.ReferencedTable, fk.ReferencedColumn,
			fk.DeleteAction, fk.UpdateAction)
	}
	return b.String()
}

func formatStatistics(stats *mssql.TableStatistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Statistics for table %s:\n\n", stats.TableName)
	fmt.Fprintf(&b, "Row count:    %d\n", stats.RowCount)
	fmt.Fprintf(&b, "Total space:  %.2f MB\n", stats.TotalSpaceMB())
	fmt.Fprintf(&b, "Used space:   %.2f MB\n", float64(stats.UsedSpaceKB)/1024.0)
	fmt.Fprintf(&b, "Unused space: %.2f MB\n", float64(stats.UnusedSpaceKB)/1024.0)
	return b.String()
}

func formatProcedures(procs []mssql.StoredProcedureInfo) string {
	if len(procs) == 0 {
		return "No stored procedures found."
	}
	var b strings.Builder
	b.WriteString("Available Stored Procedures:\n\n")
	b.WriteString("Schema | Procedure Name | Created | Modified | Executions | Avg Duration (ms)\n")
	b.WriteString("------ | -------------- | ------- | -------- | ---------- | -----------------\n")
	for _, p := range procs {
		execs, avg := "N/A", "N/A"
		if p.ExecutionCount != nil {
			execs = fmt.Sprintf("%d", *p.ExecutionCount)
		}
		if p.AverageDurationMS != nil {
			avg = fmt.Sprintf("%d", *p.AverageDurationMS)
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			p.Schema, p.Name, p.CreateDate.Format(dateLayout), p.ModifyDate.Format(dateLayout), execs, avg)
	}
	return b.String()
}

func formatParameters(procedure string, ps []mssql.StoredProcedureParameterInfo) string {
	if len(ps) == 0 {
		return fmt.Sprintf("Stored procedure %s takes no parameters.", procedure)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Parameters of %s:\n\n", procedure)
	b.WriteString("Name | Data Type | Length | Output | Nullable | Default\n")
	b.WriteString("---- | --------- | ------ | ------ | -------- | -------\n")
	for _, p := range ps {
		def := p.DefaultValue
		if def == "" {
			def = "-"
		}
		fmt.Fprintf(&b, "%s | %s | %d | %s | %s | %s\n",
			p.Name, p.DataType, p.Length, yesNo(p.IsOutput), yesNo(p.IsNullable), def)
	}
	return b.String()
}

func formatCapability(caps *mssql.Capability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", caps.VersionDisplay())
	fmt.Fprintf(&b, "Deployment: %s\n", caps.Deployment)
	b.WriteString("\nSupported features:\n")

	features := caps.Features()
	names := make([]string, 0, len(features))
	for f := range features {
		names = append(names, string(f))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-25s %s\n", name, yesNo(features[mssql.Feature(name)]))
	}
	return b.String()
}

func formatSession(s session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %d:\n", s.ID)
	fmt.Fprintf(&b, "Kind:     %s\n", s.Kind)
	fmt.Fprintf(&b, "Status:   %s\n", s.Status)
	if s.Database != "" {
		fmt.Fprintf(&b, "Database: %s\n", s.Database)
	}
	fmt.Fprintf(&b, "Started:  %s\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", s.Duration().Round(time.Millisecond))
	if s.Status == session.StatusCompleted {
		fmt.Fprintf(&b, "Rows:     %d\n", s.RowCount)
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", s.Error)
	}
	return b.String()
}

func formatSessions(sessions []session.Session) string {
	if len(sessions) == 0 {
		return "No sessions."
	}
	var b strings.Builder
	b.WriteString("ID | Kind | Status | Database | Started | Duration\n")
	b.WriteString("-- | ---- | ------ | -------- | ------- | --------\n")
	for _, s := range sessions {
		db := s.Database
		if db == "" {
			db = "-"
		}
		fmt.Fprintf(&b, "%d | %s | %s | %s | %s | %s\n",
			s.ID, s.Kind, s.Status, db, s.StartTime.Format(time.RFC3339),
			s.Duration().Round(time.Millisecond))
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
