package sqlscript

import (
	"fmt"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
)

const (
	// ErrResourceNotFound is returned when a script exists neither on disk
	// nor in the executor's bundled files.
	ErrResourceNotFound = sentinel.Error("sql script not found")

	// ErrNilArgument is returned for an empty script name or nil connection.
	ErrNilArgument = sentinel.Error("required argument is missing")

	// ErrScriptFailed matches every *ScriptError.
	ErrScriptFailed = sentinel.Error("sql script failed")
)

// ScriptError reports the statement that stopped a script.
type ScriptError struct {
	Resource  string
	Index     int // 1-based
	Statement string
	Err       error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s: statement %d: %v", ErrScriptFailed, e.Resource, e.Index, e.Err)
}

// Unwrap returns the database error.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrScriptFailed.
func (e *ScriptError) Is(target error) bool {
	return target == ErrScriptFailed
}
