package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapcrawl/pkg/datasource"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/leapstack-labs/leapcrawl/pkg/sqlscript"
	"github.com/spf13/cobra"
)

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <script>...",
		Short: "Run SQL scripts in order on one connection",
		Long: `Execute SQL scripts one after another, each on a connection borrowed
from the configured source.

Statements end with a line whose last character is ';'. Lines starting with
'--' or '#' are ignored. The first failing statement aborts its script and
no later script runs.`,
		Example: `  leapcrawl exec --url sqlite:app.db schema.sql seed.sql
  leapcrawl exec --url mem:scratch setup.sql`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args)
		},
	}
}

func runExec(cmd *cobra.Command, scripts []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := cc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer cc.CloseSource(pool)

	exec := sqlscript.New(nil, cc.Logger)
	tasks := make([]scheduler.Task, 0, len(scripts))
	seen := make(map[string]int, len(scripts))
	for _, script := range scripts {
		id := script
		if n := seen[script]; n > 0 {
			id = fmt.Sprintf("%s#%d", script, n+1)
		}
		seen[script]++
		tasks = append(tasks, scheduler.Task{ID: id, Run: func(ctx context.Context) error {
			err := pool.WithConn(ctx, func(conn *datasource.PooledConn) error {
				return exec.Execute(ctx, script, conn)
			})
			if err != nil {
				// A failed script aborts the remaining ones.
				cancel()
			}
			return err
		}})
	}

	runner := scheduler.NewSequential(cc.RunnerConfig("exec"))
	defer stopOnDone(ctx, runner, cc.Logger)()

	err = runner.Run(ctx, tasks...)
	printStatuses(cmd.OutOrStdout(), runner, taskIDs(tasks))
	return finishRun(runner, err)
}
