package scheduler

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
)

// Errors returned by TaskRunner.
const (
	ErrNoTasks         = sentinel.Error("no tasks to run")
	ErrInvalidTask     = sentinel.Error("invalid task")
	ErrDuplicateTask   = sentinel.Error("duplicate task id")
	ErrStopped         = sentinel.Error("task runner is stopped")
	ErrBusy            = sentinel.Error("task runner is already running")
	ErrStopInterrupted = sentinel.Error("interrupted while waiting for tasks to stop")

	// ErrTaskFailed matches every *TaskExecutionError.
	ErrTaskFailed = sentinel.Error("task execution failed")
)

// TaskFailure is the error returned by one task.
type TaskFailure struct {
	TaskID string
	Err    error
}

func (f TaskFailure) Error() string {
	return fmt.Sprintf("task %s: %v", f.TaskID, f.Err)
}

func (f TaskFailure) Unwrap() error {
	return f.Err
}

// TaskExecutionError lists every task of a run that failed, in submission
// order. Tasks that were never started are not listed.
type TaskExecutionError struct {
	RunnerID string
	Failures []TaskFailure
}

func (e *TaskExecutionError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%s: runner %s: %d task(s) failed: %s",
		ErrTaskFailed, e.RunnerID, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *TaskExecutionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Is reports whether target is ErrTaskFailed.
func (e *TaskExecutionError) Is(target error) bool {
	return target == ErrTaskFailed
}

// TaskIDs returns the identifiers of the failed tasks.
func (e *TaskExecutionError) TaskIDs() []string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.TaskID
	}
	return ids
}

// PanicError is the failure recorded for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}
