package mssql

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error classes callers are expected to branch on.
// Engine errors pass through wrapped, with the server message intact.
var (
	// ErrEmptyInput marks validation failures caught before any I/O.
	ErrEmptyInput = errors.New("empty input")

	// ErrNotFound marks a named object (database, table, procedure) that does
	// not exist or is not visible to the login.
	ErrNotFound = errors.New("object not found")

	// ErrDatabaseOffline marks a database that exists but is not ONLINE.
	ErrDatabaseOffline = errors.New("database not online")

	// ErrDefinitionEncrypted marks a procedure whose definition is stored
	// encrypted and cannot be retrieved by any strategy.
	ErrDefinitionEncrypted = errors.New("definition is encrypted")

	// ErrDefinitionUnavailable marks a definition that could not be retrieved
	// for reasons other than encryption (permissions, missing object).
	ErrDefinitionUnavailable = errors.New("definition unavailable")
)

// NotFoundError names the missing object so tool output can report it.
type NotFoundError struct {
	Kind string // "database", "table", "stored procedure"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q does not exist or you don't have permission to access it", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
