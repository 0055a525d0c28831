package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapcrawl/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Config tunes a TaskRunner.
type Config struct {
	// Name labels the runner in logs and metrics. Defaults to
	// "sequential" or "parallel".
	Name string

	// Workers bounds concurrent tasks of a parallel runner.
	// Defaults to runtime.NumCPU(). Ignored by sequential runners.
	Workers int

	Logger    *slog.Logger
	Collector telemetry.Collector
	Recorder  Recorder
}

type taskState struct {
	status    Status
	err       error
	startedAt time.Time
	duration  time.Duration
}

// TaskRunner runs batches of tasks. It is safe for concurrent use; Run
// calls do not overlap.
type TaskRunner struct {
	id        string
	name      string
	workers   int
	logger    *slog.Logger
	collector telemetry.Collector
	recorder  Recorder

	// mu protects everything below.
	mu      sync.Mutex
	state   State
	stopped bool
	tasks   map[string]*taskState
	order   []string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSequential returns a runner that executes tasks one at a time in
// submission order.
func NewSequential(cfg Config) *TaskRunner {
	if cfg.Name == "" {
		cfg.Name = "sequential"
	}
	return newRunner(cfg, 1)
}

// NewParallel returns a runner that executes up to cfg.Workers tasks at once.
func NewParallel(cfg Config) *TaskRunner {
	if cfg.Name == "" {
		cfg.Name = "parallel"
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return newRunner(cfg, workers)
}

func newRunner(cfg Config, workers int) *TaskRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	collector := cfg.Collector
	if collector == nil {
		collector = telemetry.Noop()
	}
	id := uuid.NewString()
	return &TaskRunner{
		id:        id,
		name:      cfg.Name,
		workers:   workers,
		logger:    logger.With(slog.String("runner_id", id), slog.String("runner", cfg.Name)),
		collector: collector,
		recorder:  cfg.Recorder,
		state:     StateCreated,
		tasks:     make(map[string]*taskState),
	}
}

// ID returns the identifier assigned at creation.
func (r *TaskRunner) ID() string {
	return r.id
}

// Workers returns the concurrency bound of the runner.
func (r *TaskRunner) Workers() int {
	return r.workers
}

// State returns the current lifecycle state.
func (r *TaskRunner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsStopped reports whether Stop was called. It does not wait for tasks to
// drain.
func (r *TaskRunner) IsStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Statuses returns a snapshot of every task's status.
func (r *TaskRunner) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.tasks))
	for id, ts := range r.tasks {
		out[id] = ts.status
	}
	return out
}

// Run executes tasks and returns once all of them finished or were
// cancelled. If any started task fails, Run returns a *TaskExecutionError
// naming every failed task. Tasks that had not started when Stop was called
// are marked cancelled and never run.
func (r *TaskRunner) Run(ctx context.Context, tasks ...Task) error {
	if err := validate(tasks); err != nil {
		return err
	}

	runCtx, done, err := r.begin(ctx, tasks)
	if err != nil {
		return err
	}

	info := RunInfo{
		ID:        uuid.NewString(),
		RunnerID:  r.id,
		Runner:    r.name,
		Workers:   r.workers,
		Tasks:     taskIDs(tasks),
		StartedAt: time.Now(),
	}
	logger := r.logger.With(slog.String("run_id", info.ID))
	logger.Info("run started", slog.Int("tasks", len(tasks)), slog.Int("workers", r.workers))
	r.record(ctx, func(rctx context.Context) error { return r.recorder.RunStarted(rctx, info) })

	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, t := range tasks {
		if runCtx.Err() != nil {
			r.cancelTask(ctx, info.ID, t.ID)
			continue
		}
		g.Go(func() error {
			r.runTask(ctx, runCtx, info.ID, t)
			return nil
		})
	}
	_ = g.Wait()

	failures, state := r.finish(done, ctx.Err() != nil)
	r.record(ctx, func(rctx context.Context) error {
		return r.recorder.RunFinished(rctx, info.ID, state, time.Now())
	})
	logger.Info("run finished", slog.String("state", string(state)), slog.Int("failed", len(failures)), slog.Any("report", r.Report()))

	if len(failures) > 0 {
		return &TaskExecutionError{RunnerID: r.id, Failures: failures}
	}
	if state != StateStopped {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func validate(tasks []Task) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidTask, i+1)
		}
		if t.Run == nil {
			return fmt.Errorf("%w: task %s has no function", ErrInvalidTask, t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// begin registers the batch and moves the runner to running.
func (r *TaskRunner) begin(ctx context.Context, tasks []Task) (context.Context, chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, nil, ErrStopped
	}
	if r.done != nil {
		return nil, nil, ErrBusy
	}
	for _, t := range tasks {
		if _, dup := r.tasks[t.ID]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
	}

	for _, t := range tasks {
		r.tasks[t.ID] = &taskState{status: StatusPending}
		r.order = append(r.order, t.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = StateRunning
	return runCtx, r.done, nil
}

// finish collects failures of the batch, settles the final state and wakes
// Stop callers. interrupted reports whether the caller's context ended.
func (r *TaskRunner) finish(done chan struct{}, interrupted bool) ([]TaskFailure, State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failures []TaskFailure
	for _, id := range r.order {
		if ts := r.tasks[id]; ts.status == StatusFailed && ts.err != nil {
			failures = append(failures, TaskFailure{TaskID: id, Err: ts.err})
			ts.err = nil
		}
	}

	switch {
	case len(failures) > 0:
		r.state = StateFailed
	case r.stopped:
		r.state = StateStopped
	case interrupted:
		r.state = StateFailed
	default:
		r.state = StateCompleted
	}

	r.cancel()
	r.cancel = nil
	r.done = nil
	close(done)
	return failures, r.state
}

func (r *TaskRunner) runTask(parent, runCtx context.Context, runID string, t Task) {
	if runCtx.Err() != nil {
		r.cancelTask(parent, runID, t.ID)
		return
	}

	start := time.Now()
	r.setStatus(t.ID, func(ts *taskState) {
		ts.status = StatusRunning
		ts.startedAt = start
	})
	r.logger.Debug("task started", slog.String("task_id", t.ID))

	err := safeRun(runCtx, t)

	status := StatusCompleted
	switch {
	case err == nil:
	case runCtx.Err() != nil && errors.Is(err, context.Canceled):
		status = StatusCancelled
		err = nil
	default:
		status = StatusFailed
	}

	result := TaskResult{TaskID: t.ID, Status: status, Err: err, StartedAt: start, Duration: time.Since(start)}
	r.setStatus(t.ID, func(ts *taskState) {
		ts.status = status
		ts.err = err
		ts.duration = result.Duration
	})

	if err != nil {
		r.logger.Warn("task failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	} else {
		r.logger.Debug("task finished", slog.String("task_id", t.ID), slog.String("status", string(status)))
	}
	r.collector.IncTask(r.name, string(status))
	r.record(parent, func(rctx context.Context) error { return r.recorder.TaskFinished(rctx, runID, result) })
}

func (r *TaskRunner) cancelTask(parent context.Context, runID, id string) {
	r.setStatus(id, func(ts *taskState) { ts.status = StatusCancelled })
	r.collector.IncTask(r.name, string(StatusCancelled))
	r.record(parent, func(rctx context.Context) error {
		return r.recorder.TaskFinished(rctx, runID, TaskResult{TaskID: id, Status: StatusCancelled})
	})
}

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx)
}

func (r *TaskRunner) setStatus(id string, fn func(*taskState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.tasks[id])
}

// record calls the recorder, if any, on a context that outlives Stop.
func (r *TaskRunner) record(ctx context.Context, fn func(context.Context) error) {
	if r.recorder == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("failed to record run state", slog.String("error", err.Error()))
	}
}

// Stop cancels the tasks of the current run and waits for them to drain.
// It is idempotent.
func (r *TaskRunner) Stop() error {
	return r.StopContext(context.Background())
}

// StopContext is Stop with a bound on the wait. When ctx ends first it
// returns ErrStopInterrupted; the tasks still observe the cancellation.
func (r *TaskRunner) StopContext(ctx context.Context) error {
	r.mu.Lock()
	first := !r.stopped
	r.stopped = true
	if r.state == StateCreated {
		r.state = StateStopped
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if first {
		r.logger.Info("stop requested")
	}
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopInterrupted, ctx.Err())
	}
}
