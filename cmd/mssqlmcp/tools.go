package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mssql-mcp/pkg/config"
	"github.com/ruslano69/mssql-mcp/pkg/mssql"
	"github.com/ruslano69/mssql-mcp/pkg/session"
)

// server holds the wired components behind the MCP tool surface.
type server struct {
	cfg *config.Config
	svc *mssql.Service
	mgr *session.Manager
	log zerolog.Logger
}

// register adds the tool set. Catalog tools are unconditional; execution
// tools appear only when the matching toggle is enabled, and the session
// inspection tools only when at least one asynchronous starter is enabled.
func (s *server) register(m *mcp.Server) {
	mcp.AddTool(m, &mcp.Tool{
		Name:        "list_databases",
		Description: "List all databases on the server with state, size and recovery model.",
	}, s.listDatabases)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "database_exists",
		Description: "Check whether a database exists and is online.",
	}, s.databaseExists)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "list_tables",
		Description: "List user tables with row counts and sizes where the server can report them.",
	}, s.listTables)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_table_schema",
		Description: "Get column definitions and descriptions for a table.",
	}, s.getTableSchema)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_table_indexes",
		Description: "List indexes on a table including key and included columns.",
	}, s.getTableIndexes)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_table_foreign_keys",
		Description: "List foreign key constraints on a table.",
	}, s.getTableForeignKeys)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_table_statistics",
		Description: "Get row count and space usage for a table.",
	}, s.getTableStatistics)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "list_stored_procedures",
		Description: "List stored procedures with execution statistics where available.",
	}, s.listStoredProcedures)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_stored_procedure_parameters",
		Description: "List the parameters of a stored procedure with types and directions.",
	}, s.getStoredProcedureParameters)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_stored_procedure_definition",
		Description: "Get the T-SQL source of a stored procedure.",
	}, s.getStoredProcedureDefinition)
	mcp.AddTool(m, &mcp.Tool{
		Name:        "get_server_capabilities",
		Description: "Report the server version, deployment type and supported features.",
	}, s.getServerCapabilities)

	if s.cfg.EnableExecuteQuery {
		mcp.AddTool(m, &mcp.Tool{
			Name:        "execute_query",
			Description: "Execute a SQL query and return the results as text. Blocks until the query completes or times out.",
		}, s.executeQuery)
	}
	if s.cfg.EnableExecuteStoredProcedure {
		mcp.AddTool(m, &mcp.Tool{
			Name:        "execute_stored_procedure",
			Description: "Execute a stored procedure with named parameters. Parameters are validated against the catalog before execution.",
		}, s.executeStoredProcedure)
	}
	if s.cfg.EnableStartQuery {
		mcp.AddTool(m, &mcp.Tool{
			Name:        "start_query",
			Description: "Start a SQL query in a background session and return its session id immediately.",
		}, s.startQuery)
	}
	if s.cfg.EnableStartStoredProcedure {
		mcp.AddTool(m, &mcp.Tool{
			Name:        "start_stored_procedure",
			Description: "Start a stored procedure in a background session and return its session id immediately.",
		}, s.startStoredProcedure)
	}
	if s.cfg.EnableStartQuery || s.cfg.EnableStartStoredProcedure {
		mcp.AddTool(m, &mcp.Tool{
			Name:        "get_session_status",
			Description: "Get the status of a background session.",
		}, s.getSessionStatus)
		mcp.AddTool(m, &mcp.Tool{
			Name:        "get_session_results",
			Description: "Get the results of a completed background session.",
		}, s.getSessionResults)
		mcp.AddTool(m, &mcp.Tool{
			Name:        "list_sessions",
			Description: "List background sessions, optionally only the running ones.",
		}, s.listSessions)
		mcp.AddTool(m, &mcp.Tool{
			Name:        "cancel_session",
			Description: "Cancel a running background session.",
		}, s.cancelSession)
	}
}

// toolCtx bounds one tool call by the configured total budget, so a stuck
// server cannot hold the MCP client indefinitely. A request whose deadline
// has already passed is rejected before any work is dispatched.
func (s *server) toolCtx(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if config.Exceeded(ctx) {
		return nil, nil, errors.New("request deadline already exceeded")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TotalToolCallTimeout())
	return ctx, cancel, nil
}

// requireDatabase rejects database-scoped calls that omit the target while
// the connection string carries no initial catalog.
func (s *server) requireDatabase(database string) error {
	if database == "" && s.cfg.ServerMode() {
		return fmt.Errorf("the database parameter is required when the connection string has no initial catalog")
	}
	return nil
}

func text(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}

// failure reports an error as tool output rather than a protocol error, so
// the calling model sees what went wrong and can correct the call.
func failure(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}, nil, nil
}

func toTimeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

type listDatabasesArgs struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

func (s *server) listDatabases(ctx context.Context, req *mcp.CallToolRequest, in listDatabasesArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	dbs, err := s.svc.ListDatabases(ctx, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatDatabases(dbs)), nil, nil
}

type databaseExistsArgs struct {
	Database string `json:"database"`
}

func (s *server) databaseExists(ctx context.Context, req *mcp.CallToolRequest, in databaseExistsArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	exists, err := s.svc.DatabaseExists(ctx, in.Database)
	if err != nil {
		return failure(err)
	}
	if exists {
		return text(fmt.Sprintf("Database %q exists and is online.", in.Database)), nil, nil
	}
	return text(fmt.Sprintf("Database %q does not exist or is not online.", in.Database)), nil, nil
}

type listTablesArgs struct {
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *server) listTables(ctx context.Context, req *mcp.CallToolRequest, in listTablesArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	tables, err := s.svc.ListTables(ctx, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatTables(tables)), nil, nil
}

type tableArgs struct {
	TableName      string `json:"table_name"`
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *server) getTableSchema(ctx context.Context, req *mcp.CallToolRequest, in tableArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	schema, err := s.svc.GetTableSchema(ctx, in.TableName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatTableSchema(schema)), nil, nil
}

func (s *server) getTableIndexes(ctx context.Context, req *mcp.CallToolRequest, in tableArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	indexes, err := s.svc.GetTableIndexes(ctx, in.TableName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatIndexes(in.TableName, indexes)), nil, nil
}

func (s *server) getTableForeignKeys(ctx context.Context, req *mcp.CallToolRequest, in tableArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	fks, err := s.svc.GetTableForeignKeys(ctx, in.TableName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatForeignKeys(in.TableName, fks)), nil, nil
}

func (s *server) getTableStatistics(ctx context.Context, req *mcp.CallToolRequest, in tableArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	stats, err := s.svc.GetTableStatistics(ctx, in.TableName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatStatistics(stats)), nil, nil
}

type listProceduresArgs struct {
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *server) listStoredProcedures(ctx context.Context, req *mcp.CallToolRequest, in listProceduresArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	procs, err := s.svc.ListStoredProcedures(ctx, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatProcedures(procs)), nil, nil
}

type procedureArgs struct {
	ProcedureName  string `json:"procedure_name"`
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *server) getStoredProcedureParameters(ctx context.Context, req *mcp.CallToolRequest, in procedureArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	ps, err := s.svc.GetProcedureParameters(ctx, in.ProcedureName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(formatParameters(in.ProcedureName, ps)), nil, nil
}

func (s *server) getStoredProcedureDefinition(ctx context.Context, req *mcp.CallToolRequest, in procedureArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	if err := s.requireDatabase(in.Database); err != nil {
		return failure(err)
	}
	def, err := s.svc.GetProcedureDefinition(ctx, in.ProcedureName, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(def), nil, nil
}

func (s *server) getServerCapabilities(ctx context.Context, req *mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	caps, err := s.svc.Capabilities(ctx)
	if err != nil {
		return failure(err)
	}
	return text(formatCapability(caps)), nil, nil
}

type queryArgs struct {
	Query          string `json:"query"`
	Database       string `json:"database,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxRows        int64  `json:"max_rows,omitempty"`
}

func (s *server) executeQuery(ctx context.Context, req *mcp.CallToolRequest, in queryArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	rows, err := s.svc.ExecuteQuery(ctx, in.Query, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	defer rows.Close()

	out, count, err := mssql.ReadText(rows, in.MaxRows)
	if err != nil {
		return failure(err)
	}
	return text(fmt.Sprintf("%s\n(%d rows)", out, count)), nil, nil
}

type execProcedureArgs struct {
	ProcedureName  string         `json:"procedure_name"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Database       string         `json:"database,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	MaxRows        int64          `json:"max_rows,omitempty"`
}

func (s *server) executeStoredProcedure(ctx context.Context, req *mcp.CallToolRequest, in execProcedureArgs) (*mcp.CallToolResult, any, error) {
	ctx, cancel, err := s.toolCtx(ctx)
	if err != nil {
		return failure(err)
	}
	defer cancel()

	rows, err := s.svc.ExecuteProcedure(ctx, in.ProcedureName, in.Parameters, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	defer rows.Close()

	out, count, err := mssql.ReadText(rows, in.MaxRows)
	if err != nil {
		return failure(err)
	}
	return text(fmt.Sprintf("%s\n(%d rows)", out, count)), nil, nil
}

func (s *server) startQuery(ctx context.Context, req *mcp.CallToolRequest, in queryArgs) (*mcp.CallToolResult, any, error) {
	id, err := s.mgr.StartQuery(ctx, in.Query, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(fmt.Sprintf("Started query session %d. Poll it with get_session_status and fetch results with get_session_results.", id)), nil, nil
}

func (s *server) startStoredProcedure(ctx context.Context, req *mcp.CallToolRequest, in execProcedureArgs) (*mcp.CallToolResult, any, error) {
	id, err := s.mgr.StartProcedure(ctx, in.ProcedureName, in.Parameters, in.Database, toTimeout(in.TimeoutSeconds))
	if err != nil {
		return failure(err)
	}
	return text(fmt.Sprintf("Started stored procedure session %d. Poll it with get_session_status and fetch results with get_session_results.", id)), nil, nil
}

type sessionArgs struct {
	SessionID int64 `json:"session_id"`
}

func (s *server) getSessionStatus(ctx context.Context, req *mcp.CallToolRequest, in sessionArgs) (*mcp.CallToolResult, any, error) {
	sess, ok := s.mgr.Get(in.SessionID)
	if !ok {
		return failure(fmt.Errorf("session %d not found", in.SessionID))
	}
	return text(formatSession(sess)), nil, nil
}

func (s *server) getSessionResults(ctx context.Context, req *mcp.CallToolRequest, in sessionArgs) (*mcp.CallToolResult, any, error) {
	sess, ok := s.mgr.Get(in.SessionID)
	if !ok {
		return failure(fmt.Errorf("session %d not found", in.SessionID))
	}
	switch sess.Status {
	case session.StatusRunning:
		return text(fmt.Sprintf("Session %d is still running (elapsed %s).", sess.ID, sess.Duration().Round(time.Second))), nil, nil
	case session.StatusCompleted:
		return text(fmt.Sprintf("%s\n(%d rows)", sess.Results, sess.RowCount)), nil, nil
	default:
		return failure(fmt.Errorf("session %d is %s: %s", sess.ID, sess.Status, sess.Error))
	}
}

type listSessionsArgs struct {
	RunningOnly bool `json:"running_only,omitempty"`
}

func (s *server) listSessions(ctx context.Context, req *mcp.CallToolRequest, in listSessionsArgs) (*mcp.CallToolResult, any, error) {
	return text(formatSessions(s.mgr.List(in.RunningOnly))), nil, nil
}

func (s *server) cancelSession(ctx context.Context, req *mcp.CallToolRequest, in sessionArgs) (*mcp.CallToolResult, any, error) {
	if !s.mgr.Cancel(in.SessionID) {
		return failure(fmt.Errorf("session %d not found or already finished", in.SessionID))
	}
	return text(fmt.Sprintf("Session %d cancelled.", in.SessionID)), nil, nil
}
