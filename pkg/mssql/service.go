package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/ruslano69/mssql-mcp/pkg/config"
	"github.com/ruslano69/mssql-mcp/pkg/mssql/params"
)

// Options tunes a Service. Zero values fall back to the defaults below.
type Options struct {
	// DefaultTimeout bounds every command issued on behalf of a caller that
	// does not bring its own timeout or deadline.
	DefaultTimeout time.Duration

	// ConnectTimeout bounds the initial connectivity check in NewService.
	ConnectTimeout time.Duration

	Logger zerolog.Logger
}

const (
	defaultCommandTimeout = 30 * time.Second
	defaultConnectTimeout = 15 * time.Second
)

// Service executes catalog introspection and user queries against one SQL
// Server target, adapting queries to the server's capabilities and switching
// database context per operation.
//
// A Service owns a base connection pool for the initial catalog. Operations
// against other databases acquire a catalog handle through the strategy
// matching the deployment class and release it when done; the caller's
// context is restored on every path.
type Service struct {
	dsn            string
	db             *sql.DB
	defaultTimeout time.Duration
	log            zerolog.Logger

	// Capability snapshot, computed at most once per instance. The cell is
	// populated only on a successful probe round; a failed connection leaves
	// it empty so the next caller retries.
	capMu  sync.Mutex
	capVal *Capability
}

// NewService opens the base pool and verifies connectivity.
func NewService(dsn string, opts Options) (*Service, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("connection string: %w", ErrEmptyInput)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultCommandTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	db, err := sql.Open("mssql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Service{
		dsn:            dsn,
		db:             db,
		defaultTimeout: opts.DefaultTimeout,
		log:            opts.Logger.With().Str("component", "mssql").Logger(),
	}, nil
}

// Close releases the base pool.
func (s *Service) Close() error {
	return s.db.Close()
}

// Capabilities returns the capability snapshot for this target, probing the
// server on first use. Concurrent first callers block on one probe round;
// the snapshot is never recomputed once populated.
func (s *Service) Capabilities(ctx context.Context) (*Capability, error) {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if s.capVal != nil {
		return s.capVal, nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("capability detection: %w", err)
	}
	s.capVal = s.detectCapabilities(ctx, s.db)
	return s.capVal, nil
}

// effectiveTimeout resolves the per-command timeout: an explicit value wins,
// then the remaining time of the caller's deadline, then the default.
func (s *Service) effectiveTimeout(ctx context.Context, explicit time.Duration) time.Duration {
	return config.EffectiveTimeout(ctx, explicit, s.defaultTimeout)
}

// switcher picks the context-switch strategy for the deployment class. Azure
// SQL Database does not allow USE across databases, so it gets a fresh
// connection with the catalog substituted in the connection string instead.
func (s *Service) switcher(ctx context.Context) (contextSwitcher, error) {
	caps, err := s.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	if caps.Deployment == AzureSQLDatabase {
		return &reconnectSwitcher{dsn: s.dsn}, nil
	}
	return &useSwitcher{db: s.db, original: initialCatalog(s.dsn)}, nil
}

// acquireCatalog returns a querying handle for the requested database, or the
// base pool when no database is requested. The target must be online before
// any switch is attempted.
func (s *Service) acquireCatalog(ctx context.Context, database string) (*catalog, error) {
	if database == "" {
		return &catalog{q: s.db, release: func() error { return nil }}, nil
	}

	if err := s.checkDatabaseOnline(ctx, database); err != nil {
		return nil, err
	}

	sw, err := s.switcher(ctx)
	if err != nil {
		return nil, err
	}
	return sw.Switch(ctx, database)
}

// checkDatabaseOnline verifies the database exists and is ONLINE, reporting a
// named failure instead of letting a later statement surface a generic error.
func (s *Service) checkDatabaseOnline(ctx context.Context, database string) error {
	var state string
	err := s.db.QueryRowContext(ctx,
		"SELECT state_desc FROM sys.databases WHERE name = @name",
		sql.Named("name", database)).Scan(&state)
	if err == sql.ErrNoRows {
		return &NotFoundError{Kind: "database", Name: database}
	}
	if err != nil {
		return fmt.Errorf("check database %q: %w", database, err)
	}
	if state != "ONLINE" {
		return fmt.Errorf("database %q is %s: %w", database, state, ErrDatabaseOffline)
	}
	return nil
}

// DatabaseExists reports whether the named database exists and is online.
func (s *Service) DatabaseExists(ctx context.Context, database string) (bool, error) {
	if strings.TrimSpace(database) == "" {
		return false, fmt.Errorf("database name: %w", ErrEmptyInput)
	}
	err := s.checkDatabaseOnline(ctx, database)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDatabaseOffline) {
		return false, nil
	}
	return false, err
}

// ExecuteQuery runs an ad-hoc query and returns a streaming reader. The
// reader owns the catalog handle (and through it the connection); closing the
// reader releases both. Cancelling ctx aborts the in-flight command.
func (s *Service) ExecuteQuery(ctx context.Context, query, database string, timeout time.Duration) (*Rows, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query: %w", ErrEmptyInput)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))

	cat, err := s.acquireCatalog(cmdCtx, database)
	if err != nil {
		cancel()
		return nil, err
	}

	rows, err := cat.q.QueryContext(cmdCtx, query)
	if err != nil {
		cat.release()
		cancel()
		return nil, fmt.Errorf("execute query: %w", err)
	}

	return &Rows{rows: rows, cancel: cancel, release: cat.release}, nil
}

// ExecuteProcedure validates the parameter map against the procedure's
// catalog metadata, binds native typed parameters and executes the procedure,
// returning a streaming reader over its result sets.
//
// Validation failures are reported in aggregate before any connection to the
// procedure is attempted.
func (s *Service) ExecuteProcedure(ctx context.Context, procedure string, parameters map[string]any, database string, timeout time.Duration) (*Rows, error) {
	if strings.TrimSpace(procedure) == "" {
		return nil, fmt.Errorf("procedure name: %w", ErrEmptyInput)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.effectiveTimeout(ctx, timeout))

	cat, err := s.acquireCatalog(cmdCtx, database)
	if err != nil {
		cancel()
		return nil, err
	}

	rows, err := s.execProcedure(cmdCtx, cat, procedure, parameters)
	if err != nil {
		cat.release()
		cancel()
		return nil, err
	}

	return &Rows{rows: rows, cancel: cancel, release: cat.release}, nil
}

func (s *Service) execProcedure(ctx context.Context, cat *catalog, procedure string, parameters map[string]any) (*sql.Rows, error) {
	schema, name := parseObjectName(procedure)

	exists, err := s.procedureExists(ctx, cat.q, schema, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &NotFoundError{Kind: "stored procedure", Name: schema + "." + name}
	}

	meta, err := s.parameterMetadata(ctx, cat.q, schema, name)
	if err != nil {
		return nil, err
	}

	bound, err := params.Bind(parameters, meta)
	if err != nil {
		return nil, err
	}

	stmt, args := buildExecStatement(schema, name, bound)
	rows, err := cat.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("execute procedure %s.%s: %w", schema, name, err)
	}
	return rows, nil
}

// buildExecStatement assembles "EXEC [s].[p] @a = @a, @out = @out OUTPUT" and
// the matching named driver arguments.
func buildExecStatement(schema, name string, bound []params.NativeParameter) (string, []any) {
	var b strings.Builder
	b.WriteString("EXEC ")
	b.WriteString(quoteIdent(schema))
	b.WriteString(".")
	b.WriteString(quoteIdent(name))

	args := make([]any, 0, len(bound))
	for i, p := range bound {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" @")
		b.WriteString(p.Name)
		b.WriteString(" = @")
		b.WriteString(p.Name)
		if p.IsOutput {
			b.WriteString(" OUTPUT")
		}
		args = append(args, p.Arg())
	}
	return b.String(), args
}

// procedureExists checks the target procedure in the current catalog context.
func (s *Service) procedureExists(ctx context.Context, q querier, schema, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sys.procedures p
		JOIN sys.schemas s ON p.schema_id = s.schema_id
		WHERE s.name = @schema AND p.name = @name`,
		sql.Named("schema", schema), sql.Named("name", name)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check procedure %s.%s: %w", schema, name, err)
	}
	return count > 0, nil
}

// parseObjectName splits an optionally schema-qualified name, stripping
// brackets. The default schema is dbo.
func parseObjectName(name string) (schema, object string) {
	schema, object = "dbo", name
	if i := strings.Index(name, "."); i >= 0 {
		schema, object = name[:i], name[i+1:]
	}
	trim := func(s string) string { return strings.Trim(s, "[]") }
	return trim(schema), trim(object)
}
