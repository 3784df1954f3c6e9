package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/mssql-mcp/pkg/config"
	"github.com/ruslano69/mssql-mcp/pkg/mssql"
)

// Executor is the data-access surface the manager launches work against.
// Implemented by *mssql.Service.
type Executor interface {
	ExecuteQuery(ctx context.Context, query, database string, timeout time.Duration) (*mssql.Rows, error)
	ExecuteProcedure(ctx context.Context, procedure string, parameters map[string]any, database string, timeout time.Duration) (*mssql.Rows, error)
}

// ErrTooManySessions is returned by Start* when the running-session cap is
// reached.
var ErrTooManySessions = errors.New("maximum concurrent sessions reached")

// Options tunes a Manager.
type Options struct {
	// MaxConcurrent caps simultaneously running sessions. Default 10.
	MaxConcurrent int

	// Retention is how long terminal sessions stay queryable before the
	// cleanup sweep removes them. Default 60 minutes.
	Retention time.Duration

	// DefaultTimeout applies when a session is started without an explicit
	// timeout and the inbound context carries no deadline. Default 30s.
	DefaultTimeout time.Duration

	// MaxResultRows bounds the accumulated result buffer per session.
	// Zero means unlimited.
	MaxResultRows int64

	Logger zerolog.Logger
}

// Manager is the thread-safe registry of in-flight and completed sessions.
// Ids are assigned monotonically and never reused within a process.
type Manager struct {
	exec           Executor
	maxConcurrent  int
	retention      time.Duration
	defaultTimeout time.Duration
	maxResultRows  int64
	log            zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*record
	nextID   int64
}

// NewManager creates a Manager launching work against exec.
func NewManager(exec Executor, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.Retention <= 0 {
		opts.Retention = 60 * time.Minute
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Manager{
		exec:           exec,
		maxConcurrent:  opts.MaxConcurrent,
		retention:      opts.Retention,
		defaultTimeout: opts.DefaultTimeout,
		maxResultRows:  opts.MaxResultRows,
		log:            opts.Logger.With().Str("component", "session").Logger(),
		sessions:       make(map[int64]*record),
	}
}

// StartQuery registers a session and launches the query on a background
// goroutine. ctx only contributes its deadline to the effective timeout; the
// work itself is detached from the calling request.
func (m *Manager) StartQuery(ctx context.Context, query, database string, timeout time.Duration) (int64, error) {
	timeout = m.effectiveTimeout(ctx, timeout)
	id, workCtx, err := m.register(Session{
		Kind:     KindQuery,
		Query:    query,
		Database: database,
		Timeout:  timeout,
	})
	if err != nil {
		return 0, err
	}

	go m.run(workCtx, id, func(runCtx context.Context) (*mssql.Rows, error) {
		return m.exec.ExecuteQuery(runCtx, query, database, timeout)
	})
	return id, nil
}

// StartProcedure registers a session and launches the stored-procedure call
// on a background goroutine.
func (m *Manager) StartProcedure(ctx context.Context, procedure string, parameters map[string]any, database string, timeout time.Duration) (int64, error) {
	timeout = m.effectiveTimeout(ctx, timeout)
	id, workCtx, err := m.register(Session{
		Kind:       KindStoredProcedure,
		Query:      procedure,
		Database:   database,
		Parameters: parameters,
		Timeout:    timeout,
	})
	if err != nil {
		return 0, err
	}

	go m.run(workCtx, id, func(runCtx context.Context) (*mssql.Rows, error) {
		return m.exec.ExecuteProcedure(runCtx, procedure, parameters, database, timeout)
	})
	return id, nil
}

// effectiveTimeout resolves the session timeout: explicit value first, then
// the remaining time of the inbound deadline, then the configured default.
func (m *Manager) effectiveTimeout(ctx context.Context, explicit time.Duration) time.Duration {
	return config.EffectiveTimeout(ctx, explicit, m.defaultTimeout)
}

// register stores a new running session, enforcing the concurrency cap, and
// returns the detached work context.
func (m *Manager) register(s Session) (int64, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	running := 0
	for _, rec := range m.sessions {
		if rec.snapshot.Running() {
			running++
		}
	}
	if running >= m.maxConcurrent {
		return 0, nil, fmt.Errorf("%w (%d)", ErrTooManySessions, m.maxConcurrent)
	}

	m.nextID++
	s.ID = m.nextID
	s.Status = StatusRunning
	s.StartTime = time.Now().UTC()

	workCtx, cancel := context.WithCancel(context.Background())
	m.sessions[s.ID] = &record{snapshot: s, cancel: cancel}

	m.log.Info().Int64("session_id", s.ID).Str("kind", string(s.Kind)).Msg("session started")
	return s.ID, workCtx, nil
}

// run executes the session's work and records the terminal state.
func (m *Manager) run(ctx context.Context, id int64, work func(context.Context) (*mssql.Rows, error)) {
	rows, err := work(ctx)
	if err != nil {
		m.finish(id, StatusFailed, "", 0, err)
		return
	}
	defer rows.Close()

	results, count, err := mssql.ReadText(rows, m.maxResultRows)
	if err != nil {
		m.finish(id, StatusFailed, "", count, err)
		return
	}
	m.finish(id, StatusCompleted, results, count, nil)
}

// finish performs the one-way terminal transition. A session already
// terminal (for example cancelled while the work was still unwinding) is
// left untouched.
func (m *Manager) finish(id int64, status Status, results string, rowCount int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.snapshot.Status.Terminal() {
		return
	}

	rec.snapshot.Status = status
	rec.snapshot.EndTime = time.Now().UTC()
	rec.snapshot.Results = results
	rec.snapshot.RowCount = rowCount
	if err != nil {
		rec.snapshot.Error = err.Error()
	}
	rec.cancel()

	m.log.Info().Int64("session_id", id).Str("status", string(status)).
		Int64("rows", rowCount).Msg("session finished")
}

// Get returns a snapshot of the session, if tracked.
func (m *Manager) Get(id int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return rec.snapshot, true
}

// List returns snapshots of tracked sessions, oldest first, optionally
// filtered to running ones.
func (m *Manager) List(runningOnly bool) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if runningOnly && !rec.snapshot.Running() {
			continue
		}
		out = append(out, rec.snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cancel requests cooperative cancellation of a running session. The session
// transitions to cancelled immediately and the work context is cancelled so
// the driver aborts the in-flight command. Returns false when the session is
// unknown or already terminal.
func (m *Manager) Cancel(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok || rec.snapshot.Status.Terminal() {
		return false
	}

	rec.snapshot.Status = StatusCancelled
	rec.snapshot.EndTime = time.Now().UTC()
	rec.snapshot.Error = "cancelled by user"
	rec.cancel()

	m.log.Info().Int64("session_id", id).Msg("session cancelled")
	return true
}

// Cleanup removes sessions that have been terminal longer than the retention
// window, as of now. Returns how many were removed. Pure given its inputs,
// so it can be tested without timers.
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for id, rec := range m.sessions {
		s := rec.snapshot
		if s.Status.Terminal() && !s.EndTime.IsZero() && now.Sub(s.EndTime) > m.retention {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug().Int("removed", removed).Msg("cleanup sweep")
	}
	return removed
}

// RunCleanup sweeps on a fixed interval until ctx is cancelled. Meant to be
// scheduled by the host process's lifecycle.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Cleanup(now)
		}
	}
}
