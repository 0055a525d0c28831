package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
)

var _ scheduler.Recorder = (*SQLiteStore)(nil)

// Run is one journaled TaskRunner.Run call.
type Run struct {
	ID         string          `json:"id"`
	RunnerID   string          `json:"runner_id"`
	Runner     string          `json:"runner"`
	Workers    int             `json:"workers"`
	TaskCount  int             `json:"task_count"`
	State      scheduler.State `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// TaskRun is the journaled outcome of one task within a run.
type TaskRun struct {
	RunID     string           `json:"run_id"`
	TaskID    string           `json:"task_id"`
	Status    scheduler.Status `json:"status"`
	Error     string           `json:"error,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// RunStarted records a new run and registers its tasks as pending.
func (s *SQLiteStore) RunStarted(ctx context.Context, info scheduler.RunInfo) error {
	if s.db == nil {
		return ErrNotOpened
	}

	s.logger.Debug("recording run", slog.String("id", info.ID), slog.Int("tasks", len(info.Tasks)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, runner_id, runner, workers, task_count, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.RunnerID, info.Runner, info.Workers, len(info.Tasks),
		string(scheduler.StateRunning), info.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for i, id := range info.Tasks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO task_runs (run_id, task_id, position, status) VALUES (?, ?, ?, ?)`,
			info.ID, id, i, string(scheduler.StatusPending),
		)
		if err != nil {
			return fmt.Errorf("failed to register task %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// TaskFinished stores the outcome of a task.
func (s *SQLiteStore) TaskFinished(ctx context.Context, runID string, result scheduler.TaskResult) error {
	if s.db == nil {
		return ErrNotOpened
	}

	var errMsg, startedAt any
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	if !result.StartedAt.IsZero() {
		startedAt = result.StartedAt.UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET status = ?, error = ?, started_at = ?, duration_ms = ?
		 WHERE run_id = ? AND task_id = ?`,
		string(result.Status), errMsg, startedAt, result.Duration.Milliseconds(),
		runID, result.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", result.TaskID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s (task %s)", ErrRunNotFound, runID, result.TaskID)
	}
	return nil
}

// RunFinished stores the final state of a run.
func (s *SQLiteStore) RunFinished(ctx context.Context, runID string, state scheduler.State, finishedAt time.Time) error {
	if s.db == nil {
		return ErrNotOpened
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, finished_at = ? WHERE id = ?`,
		string(state), finishedAt.UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, runner_id, runner, workers, task_count, state, started_at, finished_at`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recent first. A limit of zero or
// less returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListTaskRuns returns the tasks of a run in submission order.
func (s *SQLiteStore) ListTaskRuns(ctx context.Context, runID string) ([]*TaskRun, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task_id, status, error, started_at, duration_ms
		 FROM task_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var out []*TaskRun
	for rows.Next() {
		var (
			tr         TaskRun
			status     string
			errMsg     sql.NullString
			startedAt  sql.NullTime
			durationMS int64
		)
		if err := rows.Scan(&tr.RunID, &tr.TaskID, &status, &errMsg, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		tr.Status = scheduler.Status(status)
		tr.Error = errMsg.String
		if startedAt.Valid {
			tr.StartedAt = &startedAt.Time
		}
		tr.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		state      string
		finishedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.RunnerID, &run.Runner, &run.Workers, &run.TaskCount,
		&state, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.State = scheduler.State(state)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}
