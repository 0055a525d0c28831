package plan

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapcrawl/internal/testutil"
	"github.com/leapstack-labs/leapcrawl/pkg/datasource"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/leapstack-labs/leapcrawl/pkg/sqlscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapcrawl/pkg/adapters/sqlite"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(t *testing.T, p *Plan)
	}{
		{
			name:  "sequential by default",
			input: "tasks:\n  - id: a\n    script: a.sql\n",
			check: func(t *testing.T, p *Plan) {
				assert.False(t, p.Parallel)
				assert.Equal(t, []TaskEntry{{ID: "a", Script: "a.sql"}}, p.Tasks)
			},
		},
		{
			name:  "parallel with workers",
			input: "parallel: true\nworkers: 3\ntasks:\n  - {id: a, script: a.sql}\n  - {id: b, script: b.sql}\n",
			check: func(t *testing.T, p *Plan) {
				assert.True(t, p.Parallel)
				assert.Equal(t, 3, p.Workers)
				assert.Len(t, p.Tasks, 2)
			},
		},
		{name: "empty document", input: "", wantErr: "empty document"},
		{name: "no tasks", input: "parallel: true\n", wantErr: "no tasks"},
		{name: "missing id", input: "tasks:\n  - script: a.sql\n", wantErr: "task 1: id is required"},
		{name: "missing script", input: "tasks:\n  - id: a\n", wantErr: "task 1: script is required"},
		{name: "duplicate id", input: "tasks:\n  - {id: a, script: a.sql}\n  - {id: a, script: b.sql}\n", wantErr: `duplicate id "a"`},
		{name: "negative workers", input: "workers: -1\ntasks:\n  - {id: a, script: a.sql}\n", wantErr: "workers must not be negative"},
		{
			name:  "dependencies",
			input: "tasks:\n  - {id: a, script: a.sql}\n  - {id: b, script: b.sql, depends_on: [a]}\n",
			check: func(t *testing.T, p *Plan) {
				assert.Equal(t, []string{"a"}, p.Tasks[1].DependsOn)
			},
		},
		{name: "unknown dependency", input: "tasks:\n  - {id: a, script: a.sql, depends_on: [z]}\n", wantErr: `depends on unknown task "z"`},
		{name: "dependency cycle", input: "tasks:\n  - {id: a, script: a.sql, depends_on: [b]}\n  - {id: b, script: b.sql, depends_on: [a]}\n", wantErr: "dependency cycle"},
		{name: "unknown key", input: "paralel: true\ntasks:\n  - {id: a, script: a.sql}\n", wantErr: "failed to parse plan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestParse_ValidationIsInvalidPlan(t *testing.T) {
	_, err := Parse(strings.NewReader("tasks: []\n"))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestLoad_ResolvesScriptsAgainstPlanDir(t *testing.T) {
	p, err := Load("testdata/sequential.yaml")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("testdata", "schema.sql"), p.ScriptPath(p.Tasks[0]))
	abs := TaskEntry{ID: "x", Script: "/opt/x.sql"}
	assert.Equal(t, "/opt/x.sql", p.ScriptPath(abs))

	_, err = Load("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestPlan_Runner(t *testing.T) {
	seq := (&Plan{Workers: 8}).Runner(scheduler.Config{})
	assert.Equal(t, 1, seq.Workers())

	par := (&Plan{Parallel: true, Workers: 3}).Runner(scheduler.Config{Workers: 5})
	assert.Equal(t, 3, par.Workers())

	def := (&Plan{Parallel: true}).Runner(scheduler.Config{Workers: 5})
	assert.Equal(t, 5, def.Workers())
}

func openPool(t *testing.T, size int) *datasource.Pool {
	t.Helper()
	pool, err := datasource.Open(context.Background(), testutil.MemURL(t), nil, datasource.Config{
		MaxSize: size,
		Logger:  testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestPlan_ScriptTasks(t *testing.T) {
	ctx := context.Background()
	pool := openPool(t, 1)

	p, err := Load("testdata/sequential.yaml")
	require.NoError(t, err)

	runner := p.Runner(scheduler.Config{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, runner.Run(ctx, p.ScriptTasks(pool, sqlscript.New(nil, nil))...))

	var owners int
	require.NoError(t, pool.WithConn(ctx, func(conn *datasource.PooledConn) error {
		rows, err := conn.Query(ctx, "SELECT COUNT(*) FROM accounts")
		if err != nil {
			return err
		}
		defer rows.Close()
		require.True(t, rows.Next())
		return rows.Scan(&owners)
	}))
	assert.Equal(t, 1, owners)
}

func TestPlan_ScriptTasksReportScriptFailure(t *testing.T) {
	pool := openPool(t, 1)

	p, err := Load("testdata/failing.yaml")
	require.NoError(t, err)

	runner := p.Runner(scheduler.Config{})
	err = runner.Run(context.Background(), p.ScriptTasks(pool, sqlscript.New(nil, nil))...)
	require.ErrorIs(t, err, sqlscript.ErrScriptFailed)

	var execErr *scheduler.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, []string{"broken"}, execErr.TaskIDs())
	assert.Equal(t, scheduler.StatusCompleted, runner.Statuses()["schema"])
	assert.Zero(t, pool.Stats().InUse)
}

func TestPlan_Levels(t *testing.T) {
	p, err := Load("testdata/blocked.yaml")
	require.NoError(t, err)

	levels, err := p.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, "schema", levels[0][0].ID)
	assert.Equal(t, "broken", levels[1][0].ID)
	assert.Equal(t, "seed", levels[2][0].ID)
	assert.Equal(t, []string{"schema", "broken", "seed"}, p.IDs())

	flat, err := Load("testdata/sequential.yaml")
	require.NoError(t, err)
	levels, err = flat.Levels()
	require.NoError(t, err)
	assert.Len(t, levels, 1)
}

func TestPlan_ExecuteOrdersByDependencies(t *testing.T) {
	ctx := context.Background()
	pool := openPool(t, 1)

	p, err := Load("testdata/layered.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"schema", "seed"}, p.IDs())

	runner := p.Runner(scheduler.Config{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, p.Execute(ctx, runner, pool, sqlscript.New(nil, nil)))

	statuses := runner.Statuses()
	assert.Equal(t, scheduler.StatusCompleted, statuses["schema"])
	assert.Equal(t, scheduler.StatusCompleted, statuses["seed"])
	assert.Equal(t, scheduler.StateCompleted, runner.State())
}

func TestPlan_ExecuteCancelsLaterLevels(t *testing.T) {
	pool := openPool(t, 1)

	p, err := Load("testdata/blocked.yaml")
	require.NoError(t, err)

	runner := p.Runner(scheduler.Config{})
	err = p.Execute(context.Background(), runner, pool, sqlscript.New(nil, nil))

	var execErr *scheduler.TaskExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, []string{"broken"}, execErr.TaskIDs())

	statuses := runner.Statuses()
	assert.Equal(t, scheduler.StatusCompleted, statuses["schema"])
	assert.Equal(t, scheduler.StatusFailed, statuses["broken"])
	assert.Equal(t, scheduler.StatusCancelled, statuses["seed"])
	assert.Zero(t, pool.Stats().InUse)
}

func TestPlan_ExecuteOnStoppedRunner(t *testing.T) {
	pool := openPool(t, 1)

	p, err := Load("testdata/layered.yaml")
	require.NoError(t, err)

	runner := p.Runner(scheduler.Config{})
	require.NoError(t, runner.Stop())

	err = p.Execute(context.Background(), runner, pool, sqlscript.New(nil, nil))
	require.ErrorIs(t, err, scheduler.ErrStopped)
	assert.Empty(t, runner.Statuses())
}
