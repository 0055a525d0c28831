package datasource

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
)

const (
	// ErrConnection is returned when a raw connection cannot be opened:
	// malformed identity, unknown scheme, unreachable database or rejected
	// credentials. The underlying cause is wrapped.
	ErrConnection = sentinel.Error("cannot open connection")

	// ErrClosed is returned by Borrow after the source is closed and by
	// handle operations after the handle was closed.
	ErrClosed = sentinel.Error("resource is closed")

	// ErrInvalidState is returned when a handle is released twice, does not
	// belong to the source, or its raw connection was closed out of band.
	ErrInvalidState = sentinel.Error("invalid connection state")

	// ErrTimeout is returned when Borrow waits longer than BorrowTimeout.
	ErrTimeout = sentinel.Error("timed out waiting for a connection")

	// ErrLeak matches every *LeakError.
	ErrLeak = sentinel.Error("connections leaked")
)

// LeakError is returned by Close when handles are still checked out and
// their raw connections are still open.
type LeakError struct {
	URL     string
	Handles []string
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("%s: %d connection(s) of %s still checked out: %s",
		ErrLeak, len(e.Handles), e.URL, strings.Join(e.Handles, ", "))
}

// Is reports whether target is ErrLeak.
func (e *LeakError) Is(target error) bool {
	return target == ErrLeak
}
