// Package plan loads YAML execution plans: named SQL scripts run on a task
// runner, each on its own borrowed connection. Tasks may depend on other
// tasks; a plan then runs as a series of levels, one runner batch per level.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
	"github.com/leapstack-labs/leapcrawl/pkg/datasource"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/leapstack-labs/leapcrawl/pkg/sqlscript"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is returned for plans that fail validation.
const ErrInvalidPlan = sentinel.Error("invalid plan")

// Plan is a list of script tasks.
type Plan struct {
	Parallel bool        `yaml:"parallel"`
	Workers  int         `yaml:"workers"`
	Tasks    []TaskEntry `yaml:"tasks"`

	dir string
}

// TaskEntry names one script to run.
type TaskEntry struct {
	ID        string   `yaml:"id"`
	Script    string   `yaml:"script"`
	DependsOn []string `yaml:"depends_on"`
}

// Load reads a plan from path. Relative script paths resolve against the
// directory of the plan file.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	return p, nil
}

// Parse decodes and validates a plan. Unknown keys are rejected.
func Parse(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidPlan)
		}
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan for missing or duplicate entries and for broken
// dependencies.
func (p *Plan) Validate() error {
	var errs []error
	if len(p.Tasks) == 0 {
		errs = append(errs, errors.New("no tasks"))
	}
	if p.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", p.Workers))
	}

	seen := make(map[string]struct{}, len(p.Tasks))
	for i, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			errs = append(errs, fmt.Errorf("task %d: id is required", i+1))
		}
		if strings.TrimSpace(t.Script) == "" {
			errs = append(errs, fmt.Errorf("task %d: script is required", i+1))
		}
		if _, dup := seen[t.ID]; dup && t.ID != "" {
			errs = append(errs, fmt.Errorf("task %d: duplicate id %q", i+1, t.ID))
		}
		seen[t.ID] = struct{}{}
	}

	if len(errs) == 0 {
		if _, err := p.graph(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
	}
	return nil
}

func (p *Plan) graph() (*graph, error) {
	g := newGraph()
	for _, t := range p.Tasks {
		g.addNode(t.ID)
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if err := g.addEdge(dep, t.ID); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Levels groups the entries into batches. Every entry comes after all of its
// dependencies; a plan without dependencies is a single level.
func (p *Plan) Levels() ([][]TaskEntry, error) {
	g, err := p.graph()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	ids, err := g.levels()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	byID := make(map[string]TaskEntry, len(p.Tasks))
	for _, t := range p.Tasks {
		byID[t.ID] = t
	}
	levels := make([][]TaskEntry, len(ids))
	for i, level := range ids {
		for _, id := range level {
			levels[i] = append(levels[i], byID[id])
		}
	}
	return levels, nil
}

// ScriptPath resolves the script of an entry.
func (p *Plan) ScriptPath(t TaskEntry) string {
	if p.dir == "" || filepath.IsAbs(t.Script) {
		return t.Script
	}
	return filepath.Join(p.dir, t.Script)
}

// Runner builds the task runner the plan asks for.
func (p *Plan) Runner(cfg scheduler.Config) *scheduler.TaskRunner {
	if !p.Parallel {
		return scheduler.NewSequential(cfg)
	}
	if p.Workers > 0 {
		cfg.Workers = p.Workers
	}
	return scheduler.NewParallel(cfg)
}

// Source lends connections for the duration of a callback.
type Source interface {
	WithConn(ctx context.Context, fn func(*datasource.PooledConn) error) error
}

// ScriptTasks turns every entry into a task that borrows a connection from
// source and runs the script on it. Dependencies are ignored; see Execute.
func (p *Plan) ScriptTasks(source Source, exec *sqlscript.Executor) []scheduler.Task {
	return p.tasks(p.Tasks, source, exec)
}

func (p *Plan) tasks(entries []TaskEntry, source Source, exec *sqlscript.Executor) []scheduler.Task {
	tasks := make([]scheduler.Task, len(entries))
	for i, entry := range entries {
		script := p.ScriptPath(entry)
		tasks[i] = scheduler.Task{ID: entry.ID, Run: func(ctx context.Context) error {
			return source.WithConn(ctx, func(conn *datasource.PooledConn) error {
				return exec.Execute(ctx, script, conn)
			})
		}}
	}
	return tasks
}

// IDs returns the task ids in execution order.
func (p *Plan) IDs() []string {
	levels, err := p.Levels()
	if err != nil {
		ids := make([]string, len(p.Tasks))
		for i, t := range p.Tasks {
			ids[i] = t.ID
		}
		return ids
	}
	var ids []string
	for _, level := range levels {
		for _, t := range level {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Execute runs the plan level by level on runner. After a failed level the
// tasks of the remaining levels are recorded as cancelled without running. A
// stopped runner ends the plan with ErrStopped.
func (p *Plan) Execute(ctx context.Context, runner *scheduler.TaskRunner, source Source, exec *sqlscript.Executor) error {
	levels, err := p.Levels()
	if err != nil {
		return err
	}

	var firstErr error
	for _, level := range levels {
		tasks := p.tasks(level, source, exec)
		if firstErr != nil {
			if runner.IsStopped() {
				break
			}
			// Run on a dead context records every task as cancelled.
			skipped, cancel := context.WithCancel(ctx)
			cancel()
			if err := runner.Run(skipped, tasks...); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Join(firstErr, err)
			}
			continue
		}
		if err := runner.Run(ctx, tasks...); err != nil {
			firstErr = err
		} else if runner.IsStopped() {
			firstErr = scheduler.ErrStopped
		}
	}
	return firstErr
}
