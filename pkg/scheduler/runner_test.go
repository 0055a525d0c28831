package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/leapcrawl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []Task
		wantErr error
	}{
		{name: "no tasks", tasks: nil, wantErr: ErrNoTasks},
		{name: "empty id", tasks: []Task{{ID: " ", Run: noop}}, wantErr: ErrInvalidTask},
		{name: "nil func", tasks: []Task{{ID: "a"}}, wantErr: ErrInvalidTask},
		{name: "duplicate in batch", tasks: []Task{{ID: "a", Run: noop}, {ID: "a", Run: noop}}, wantErr: ErrDuplicateTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSequential(Config{})
			err := r.Run(context.Background(), tt.tasks...)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, StateCreated, r.State())
		})
	}
}

func TestRun_DuplicateAcrossRuns(t *testing.T) {
	r := NewSequential(Config{})
	require.NoError(t, r.Run(context.Background(), Task{ID: "a", Run: noop}))

	err := r.Run(context.Background(), Task{ID: "b", Run: noop}, Task{ID: "a", Run: noop})
	require.ErrorIs(t, err, ErrDuplicateTask)
	assert.NotContains(t, r.Statuses(), "b", "rejected batch must not be registered")
}

func TestSequential_PreservesOrder(t *testing.T) {
	r := NewSequential(Config{Logger: testutil.NewTestLogger(t)})

	var (
		mu    sync.Mutex
		order []string
	)
	var tasks []Task
	for i := range 10 {
		id := fmt.Sprintf("task-%02d", i)
		tasks = append(tasks, Task{ID: id, Run: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
			return nil
		}})
	}

	require.NoError(t, r.Run(context.Background(), tasks...))
	assert.Equal(t, taskIDs(tasks), order)
	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, 1, r.Workers())
}

func TestParallel_BoundsConcurrency(t *testing.T) {
	const workers = 3
	r := NewParallel(Config{Workers: workers})

	var current, peak atomic.Int32
	var tasks []Task
	for i := range 12 {
		tasks = append(tasks, Task{ID: fmt.Sprint(i), Run: func(context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		}})
	}

	require.NoError(t, r.Run(context.Background(), tasks...))
	assert.LessOrEqual(t, int(peak.Load()), workers)
	assert.Greater(t, int(peak.Load()), 1, "tasks should overlap")
}

func TestNewParallel_DefaultWorkers(t *testing.T) {
	assert.Positive(t, NewParallel(Config{}).Workers())
}

func TestRun_AggregatesFailures(t *testing.T) {
	r := NewParallel(Config{Workers: 2})
	errA := errors.New("boom a")
	errC := errors.New("boom c")

	var ranB atomic.Bool
	err := r.Run(context.Background(),
		Task{ID: "a", Run: func(context.Context) error { return errA }},
		Task{ID: "b", Run: func(context.Context) error { ranB.Store(true); return nil }},
		Task{ID: "c", Run: func(context.Context) error { return errC }},
	)

	require.ErrorIs(t, err, ErrTaskFailed)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errC)

	var execErr *TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, []string{"a", "c"}, execErr.TaskIDs())
	assert.Equal(t, r.ID(), execErr.RunnerID)
	assert.Contains(t, err.Error(), "task a: boom a")

	assert.True(t, ranB.Load(), "a failing task does not cancel the others")
	assert.Equal(t, StateFailed, r.State())
	assert.Equal(t, map[string]Status{"a": StatusFailed, "b": StatusCompleted, "c": StatusFailed}, r.Statuses())
}

func TestRun_CapturesPanics(t *testing.T) {
	r := NewSequential(Config{})
	err := r.Run(context.Background(),
		Task{ID: "explodes", Run: func(context.Context) error { panic("kaboom") }},
		Task{ID: "after", Run: noop},
	)

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, StatusCompleted, r.Statuses()["after"])
}

// pollingTasks builds n tasks that sleep for interval and then check for
// cancellation, returning onStop once they observe it.
func pollingTasks(n int, interval time.Duration, started *atomic.Int32, onStop func(ctx context.Context) error) []Task {
	tasks := make([]Task, n)
	for i := range n {
		tasks[i] = Task{ID: fmt.Sprintf("poll-%d", i), Run: func(ctx context.Context) error {
			started.Add(1)
			for {
				time.Sleep(interval)
				if ctx.Err() != nil {
					return onStop(ctx)
				}
			}
		}}
	}
	return tasks
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond)
}

func TestStop_CancelsRunningAndPendingTasks(t *testing.T) {
	const (
		workers  = 4
		total    = 10
		interval = 10 * time.Millisecond
	)
	r := NewParallel(Config{Workers: workers, Logger: testutil.NewTestLogger(t)})

	var started atomic.Int32
	tasks := pollingTasks(total, interval, &started, func(ctx context.Context) error { return ctx.Err() })

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background(), tasks...) }()

	waitFor(t, func() bool { return started.Load() == workers })

	begin := time.Now()
	require.NoError(t, r.Stop())
	assert.Less(t, time.Since(begin), 20*interval, "tasks should exit within about one polling interval")
	assert.True(t, r.IsStopped())

	require.NoError(t, <-runErr)
	assert.Equal(t, StateStopped, r.State())
	assert.Equal(t, int32(workers), started.Load(), "pending tasks must never start")

	for id, status := range r.Statuses() {
		assert.Equal(t, StatusCancelled, status, "task %s", id)
	}
}

func TestStop_ErrorListsOnlyStartedTasks(t *testing.T) {
	const (
		workers  = 3
		total    = 8
		interval = 5 * time.Millisecond
	)
	r := NewParallel(Config{Workers: workers})

	var (
		started atomic.Int32
		mu      sync.Mutex
		ran     []string
	)
	tasks := pollingTasks(total, interval, &started, func(context.Context) error {
		return errors.New("halted mid-way")
	})
	for i := range tasks {
		run := tasks[i].Run
		id := tasks[i].ID
		tasks[i].Run = func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, id)
			mu.Unlock()
			return run(ctx)
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background(), tasks...) }()
	waitFor(t, func() bool { return started.Load() == workers })
	require.NoError(t, r.Stop())

	err := <-runErr
	var execErr *TaskExecutionError
	require.ErrorAs(t, err, &execErr)

	mu.Lock()
	defer mu.Unlock()
	got := execErr.TaskIDs()
	sort.Strings(got)
	sort.Strings(ran)
	assert.Equal(t, ran, got)
	assert.Len(t, got, workers)
	assert.Equal(t, StateFailed, r.State(), "failed tasks win over the stop")
}

func TestStop_Sequential(t *testing.T) {
	r := NewSequential(Config{})

	var started atomic.Int32
	tasks := pollingTasks(5, time.Millisecond, &started, func(ctx context.Context) error { return ctx.Err() })

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background(), tasks...) }()
	waitFor(t, func() bool { return started.Load() == 1 })

	require.NoError(t, r.Stop())
	require.NoError(t, <-runErr)
	assert.Equal(t, int32(1), started.Load())
}

func TestStop_Idempotent(t *testing.T) {
	r := NewSequential(Config{})
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.True(t, r.IsStopped())
	assert.Equal(t, StateStopped, r.State())

	err := r.Run(context.Background(), Task{ID: "late", Run: noop})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopContext_Interrupted(t *testing.T) {
	r := NewSequential(Config{})
	release := make(chan struct{})
	running := make(chan struct{})

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(context.Background(), Task{ID: "stubborn", Run: func(context.Context) error {
			close(running)
			<-release
			return nil
		}})
	}()
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.StopContext(ctx)
	require.ErrorIs(t, err, ErrStopInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-runErr)
	require.NoError(t, r.Stop())
	assert.Equal(t, StatusCompleted, r.Statuses()["stubborn"])
}

func TestRun_Busy(t *testing.T) {
	r := NewParallel(Config{Workers: 2})
	release := make(chan struct{})
	running := make(chan struct{})

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(context.Background(), Task{ID: "first", Run: func(context.Context) error {
			close(running)
			<-release
			return nil
		}})
	}()
	<-running

	err := r.Run(context.Background(), Task{ID: "second", Run: noop})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-runErr)
	require.NoError(t, r.Run(context.Background(), Task{ID: "second", Run: noop}))
}

func TestRun_ParentContextCancelled(t *testing.T) {
	r := NewSequential(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	err := r.Run(ctx, Task{ID: "never", Run: func(context.Context) error { ran.Store(true); return nil }})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
	assert.Equal(t, StatusCancelled, r.Statuses()["never"])
	assert.Equal(t, StateFailed, r.State())
}

func TestReport(t *testing.T) {
	r := NewSequential(Config{Name: "nightly"})
	report := r.Report()

	require.NoError(t, r.Run(context.Background(), Task{ID: "alpha", Run: noop}))

	// The report was taken before the run and still reflects the latest state.
	text := report.String()
	assert.Contains(t, text, r.ID())
	assert.Contains(t, text, "nightly")
	assert.Contains(t, text, "completed")
	assert.Contains(t, text, "alpha: completed")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("status", slog.Any("report", report))
	assert.Contains(t, buf.String(), "alpha: completed")
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []RunInfo
	results  []TaskResult
	finished []State
}

func (f *fakeRecorder) RunStarted(_ context.Context, info RunInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, info)
	return nil
}

func (f *fakeRecorder) TaskFinished(_ context.Context, _ string, result TaskResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeRecorder) RunFinished(_ context.Context, _ string, state State, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, state)
	return errors.New("journal unavailable")
}

func TestRun_Recorder(t *testing.T) {
	rec := &fakeRecorder{}
	r := NewSequential(Config{Recorder: rec, Logger: testutil.NewTestLogger(t)})

	err := r.Run(context.Background(),
		Task{ID: "ok", Run: noop},
		Task{ID: "bad", Run: func(context.Context) error { return errors.New("nope") }},
	)
	require.ErrorIs(t, err, ErrTaskFailed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	assert.Equal(t, r.ID(), rec.started[0].RunnerID)
	assert.Equal(t, []string{"ok", "bad"}, rec.started[0].Tasks)
	require.Len(t, rec.results, 2)
	assert.Equal(t, StatusCompleted, rec.results[0].Status)
	assert.Equal(t, StatusFailed, rec.results[1].Status)
	assert.EqualError(t, rec.results[1].Err, "nope")
	assert.Equal(t, []State{StateFailed}, rec.finished, "recorder errors never fail the run")
}
