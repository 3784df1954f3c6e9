// Package session tracks long-running query and stored-procedure executions
// detached from the requests that started them, so callers can poll instead
// of blocking.
//
// State machine:
//
//	running → completed   (work finished)
//	running → failed      (work returned an error)
//	running → cancelled   (caller requested cancellation)
//
// Terminal states are one-way: a session transitions at most once and its
// record never changes afterwards. Terminal sessions are reclaimed by a
// periodic cleanup sweep after a retention window.
package session

import (
	"context"
	"time"
)

// Kind distinguishes what a session executes.
type Kind string

const (
	KindQuery           Kind = "query"
	KindStoredProcedure Kind = "stored_procedure"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s != StatusRunning }

// Session is an immutable snapshot of one tracked execution, as returned to
// callers. Readers observe either a running session or a fully populated
// terminal record, never a half-written one.
type Session struct {
	ID         int64
	Kind       Kind
	Query      string // query text, or procedure name for procedure sessions
	Database   string
	Parameters map[string]any
	Status     Status
	StartTime  time.Time
	EndTime    time.Time // zero while running
	RowCount   int64
	Results    string
	Error      string
	Timeout    time.Duration
}

// Running reports whether the session has not reached a terminal state.
func (s Session) Running() bool { return s.Status == StatusRunning }

// Duration is the session's elapsed time, still growing while running.
func (s Session) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// record is the manager's mutable session state, guarded by the manager
// mutex.
type record struct {
	snapshot Session
	cancel   context.CancelFunc
}
