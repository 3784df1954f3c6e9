package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net/url"
	"strings"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Conn.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// catalog is a querying handle bound to one database context. Release
// restores the caller's original context (or tears down the dedicated
// connection) and must be called exactly once, on error paths included.
type catalog struct {
	q       querier
	release func() error
}

// contextSwitcher acquires a catalog handle for the target database. The two
// implementations are selected once per operation by deployment class.
type contextSwitcher interface {
	Switch(ctx context.Context, database string) (*catalog, error)
}

// useSwitcher switches context with a USE statement on a dedicated pool
// connection and switches back on release. Works everywhere except Azure SQL
// Database, where USE across databases is not supported by the platform.
type useSwitcher struct {
	db       *sql.DB
	original string // database to restore, from the initial catalog
}

func (s *useSwitcher) Switch(ctx context.Context, database string) (*catalog, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	// The connection goes back to a shared pool, so the database to restore
	// must be known before any switch. With no initial catalog configured it
	// is read off the connection itself.
	original := s.original
	if original == "" {
		if err := conn.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&original); err != nil {
			conn.Close()
			return nil, fmt.Errorf("read current database: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "USE "+quoteIdent(database)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("switch to database %q: %w", database, err)
	}

	release := func() error {
		// Restore before the connection goes back to the pool. If the
		// restore fails the connection is left in the wrong database, so it
		// must be discarded rather than reused.
		if _, err := conn.ExecContext(context.Background(), "USE "+quoteIdent(original)); err != nil {
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			_ = conn.Close()
			return fmt.Errorf("restore database context %q: %w", original, err)
		}
		return conn.Close()
	}

	return &catalog{q: conn, release: release}, nil
}

// reconnectSwitcher builds a connection string naming the target catalog and
// opens a fresh connection for the duration of the operation. The original
// pool is left untouched. This is the only strategy available on Azure SQL
// Database.
type reconnectSwitcher struct {
	dsn string
}

func (s *reconnectSwitcher) Switch(ctx context.Context, database string) (*catalog, error) {
	dsn, err := replaceCatalog(s.dsn, database)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mssql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open connection to database %q: %w", database, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %q: %w", database, err)
	}

	return &catalog{q: db, release: db.Close}, nil
}

// replaceCatalog rewrites the connection string so it targets the given
// database. Both the semicolon key=value form and the sqlserver:// URL form
// are handled; a missing database key is appended.
func replaceCatalog(dsn, database string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse connection string: %w", err)
		}
		q := u.Query()
		q.Set("database", database)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	parts := strings.Split(dsn, ";")
	out := make([]string, 0, len(parts)+1)
	replaced := false
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if strings.HasPrefix(key, "database=") || strings.HasPrefix(key, "initial catalog=") {
			out = append(out, "database="+database)
			replaced = true
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		out = append(out, "database="+database)
	}
	return strings.Join(out, ";"), nil
}

// initialCatalog extracts the database named by the connection string, or ""
// when the string targets the server as a whole.
func initialCatalog(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		return u.Query().Get("database")
	}
	for _, part := range strings.Split(dsn, ";") {
		p := strings.TrimSpace(part)
		key := strings.ToLower(p)
		for _, prefix := range []string{"database=", "initial catalog="} {
			if strings.HasPrefix(key, prefix) {
				return strings.TrimSpace(p[len(prefix):])
			}
		}
	}
	return ""
}

// quoteIdent brackets an identifier, escaping closing brackets.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
