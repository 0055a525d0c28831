package scheduler

import (
	"context"
	"time"
)

// Task is a named unit of work. Run must return promptly once ctx is done.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// State is the lifecycle state of a TaskRunner.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Status is the state of one task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TaskResult describes a finished task.
type TaskResult struct {
	TaskID    string
	Status    Status
	Err       error
	StartedAt time.Time // zero when the task never started
	Duration  time.Duration
}

// RunInfo describes one Run call.
type RunInfo struct {
	ID        string
	RunnerID  string
	Runner    string
	Workers   int
	Tasks     []string
	StartedAt time.Time
}

// Recorder journals runs. Errors are logged and never fail the run.
type Recorder interface {
	RunStarted(ctx context.Context, info RunInfo) error
	TaskFinished(ctx context.Context, runID string, result TaskResult) error
	RunFinished(ctx context.Context, runID string, state State, finishedAt time.Time) error
}
