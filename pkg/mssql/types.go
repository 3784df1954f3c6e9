package mssql

import "time"

// TableInfo describes one user table. The base listing query fills the
// required fields; RowCount, SizeMB and IndexCount are filled by separate
// enhancement queries and stay nil when those queries fail.
type TableInfo struct {
	Schema     string
	Name       string
	CreateDate time.Time
	ModifyDate time.Time
	TableType  string // "Normal", "Temporal", "History" (temporal classification needs 2016+)
	RowCount   *int64
	SizeMB     *float64
	IndexCount *int
}

// DatabaseInfo describes one database on the server.
type DatabaseInfo struct {
	Name               string
	State              string
	CreateDate         time.Time
	SizeMB             *float64
	Owner              string
	CompatibilityLevel string
	CollationName      string
	RecoveryModel      string
	IsReadOnly         bool
}

// TableColumnInfo describes one column of a table.
type TableColumnInfo struct {
	Name        string
	DataType    string
	MaxLength   string // "-1" for MAX types
	IsNullable  string // "YES"/"NO" as reported by INFORMATION_SCHEMA
	Description string
}

// TableSchemaInfo is the full schema listing for one table.
type TableSchemaInfo struct {
	TableName    string
	DatabaseName string
	Description  string
	Columns      []TableColumnInfo
}

// TableIndex describes one index on a table.
type TableIndex struct {
	Name               string
	Type               string
	IsPrimaryKey       bool
	IsUnique           bool
	IsUniqueConstraint bool
	Columns            []string
	IncludedColumns    []string
}

// ForeignKey describes one column pair of a foreign key constraint.
type ForeignKey struct {
	ConstraintName   string
	TableName        string
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
	DeleteAction     string
	UpdateAction     string
}

// TableStatistics holds size and row count figures for one table.
type TableStatistics struct {
	TableName     string
	RowCount      int64
	TotalSpaceKB  int64
	UsedSpaceKB   int64
	UnusedSpaceKB int64
}

// TotalSpaceMB returns the total space in megabytes.
func (s TableStatistics) TotalSpaceMB() float64 { return float64(s.TotalSpaceKB) / 1024.0 }

// StoredProcedureInfo describes one stored procedure. Execution statistics
// come from sys.dm_exec_procedure_stats and are best-effort: nil when the DMV
// is not queryable or the procedure has no cached plan.
type StoredProcedureInfo struct {
	Schema     string
	Name       string
	CreateDate time.Time
	ModifyDate time.Time
	Owner      string
	IsFunction bool

	LastExecutionTime *time.Time
	ExecutionCount    *int64
	AverageDurationMS *int64
}

// StoredProcedureParameterInfo is the user-facing description of one
// procedure parameter.
type StoredProcedureParameterInfo struct {
	Name         string
	DataType     string
	Length       int
	Precision    int
	Scale        int
	IsOutput     bool
	IsNullable   bool
	DefaultValue string
}
