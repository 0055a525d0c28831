package commands

import (
	"github.com/leapstack-labs/leapcrawl/internal/plan"
	"github.com/leapstack-labs/leapcrawl/pkg/sqlscript"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Run the SQL scripts listed in a plan",
		Long: `Execute the tasks of a YAML plan. Each task runs one script on its own
borrowed connection. Plans run sequentially unless they set parallel: true.
A task listing depends_on runs only after those tasks completed; when a task
fails, tasks in later levels are cancelled.

Plan format:

  parallel: true
  workers: 4
  tasks:
    - id: schema
      script: schema.sql
    - id: seed
      script: seed.sql
      depends_on: [schema]

Script paths are relative to the plan file.`,
		Example: `  leapcrawl run --url duckdb:warehouse.duckdb nightly.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0])
		},
	}
}

func runPlan(cmd *cobra.Command, path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	pool, err := cc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer cc.CloseSource(pool)

	name := "sequential"
	if p.Parallel {
		name = "parallel"
	}
	runner := p.Runner(cc.RunnerConfig(name))
	defer stopOnDone(ctx, runner, cc.Logger)()

	err = p.Execute(ctx, runner, pool, sqlscript.New(nil, cc.Logger))
	printStatuses(cmd.OutOrStdout(), runner, p.IDs())
	return finishRun(runner, err)
}
