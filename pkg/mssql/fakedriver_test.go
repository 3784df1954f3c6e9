package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeServer is the shared state behind the in-memory driver used by the
// context-switch and capability tests. One instance backs one pool and counts
// the capability probe rounds it serves.
type fakeServer struct {
	mu             sync.Mutex
	versionQueries int
}

func (s *fakeServer) versionQueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionQueries
}

type fakeDriver struct{ srv *fakeServer }

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	current := "master"
	return &fakeConn{srv: d.srv, current: &current}, nil
}

// fakeConn understands just enough T-SQL for the code under test: USE
// statements, DB_NAME(), the capability version query and the feature probes.
type fakeConn struct {
	srv     *fakeServer
	current *string
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if strings.HasPrefix(query, "USE ") {
		*c.current = strings.Trim(strings.TrimPrefix(query, "USE "), "[]")
		return driver.RowsAffected(0), nil
	}
	return nil, fmt.Errorf("unexpected exec %q", query)
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	switch {
	case strings.Contains(query, "DB_NAME()"):
		return singleRow("db_name", *c.current), nil
	case strings.Contains(query, "SERVERPROPERTY('ProductVersion')"):
		c.srv.mu.Lock()
		c.srv.versionQueries++
		c.srv.mu.Unlock()
		return &fakeRows{
			cols: []string{"version", "product_version", "edition", "engine_edition"},
			rows: [][]driver.Value{{
				"Microsoft SQL Server 2019 (RTM) - 15.0.2000.5",
				"15.0.2000.5",
				"Developer Edition",
				int64(3),
			}},
		}, nil
	case strings.Contains(query, "dm_db_partition_stats"),
		strings.Contains(query, "dm_db_index_usage_stats"):
		return singleRow("probe", int64(1)), nil
	default:
		return nil, fmt.Errorf("unexpected query %q", query)
	}
}

func singleRow(col string, v driver.Value) *fakeRows {
	return &fakeRows{cols: []string{col}, rows: [][]driver.Value{{v}}}
}

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

var fakeDriverSeq atomic.Int64

// newFakePool registers a fresh fake driver and opens a pool capped at one
// connection, so context pollution on the pooled connection is observable.
func newFakePool(t *testing.T, srv *fakeServer) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("fakesql-%d", fakeDriverSeq.Add(1))
	sql.Register(name, &fakeDriver{srv: srv})

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open fake pool: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
