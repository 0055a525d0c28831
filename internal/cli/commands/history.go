package commands

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapcrawl/internal/state"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit  int
	Output string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the most recent runs from the state journal, or the tasks of one
run when a run ID is given.`,
		Example: `  leapcrawl history
  leapcrawl history --limit 50
  leapcrawl history 0b7c6f9e-2d1c-4f59-9c1e-3f0d2a5e8b11`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format (table|json)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	if opts.Output != "table" && opts.Output != "json" {
		return fmt.Errorf("unknown output format %q (expected table or json)", opts.Output)
	}

	cc := NewCommandContextWithoutJournal(cmd)
	journal, err := openJournal(cmd.Context(), cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	w := cmd.OutOrStdout()
	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := journal.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		tasks, err := journal.ListTaskRuns(ctx, run.ID)
		if err != nil {
			return err
		}
		if opts.Output == "json" {
			return renderJSON(w, struct {
				Run   *state.Run       `json:"run"`
				Tasks []*state.TaskRun `json:"tasks"`
			}{run, tasks})
		}
		renderTaskRuns(w, run, tasks)
		return nil
	}

	runs, err := journal.ListRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.Output == "json" {
		return renderJSON(w, runs)
	}
	renderRuns(w, runs)
	return nil
}

func renderRuns(w io.Writer, runs []*state.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no runs recorded)")
		return
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Runner", "Workers", "Tasks", "State", "Started", "Finished"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.Runner, r.Workers, r.TaskCount, r.State, formatTime(&r.StartedAt), formatTime(r.FinishedAt)})
	}
	t.Render()
}

func renderTaskRuns(w io.Writer, run *state.Run, tasks []*state.TaskRun) {
	_, _ = fmt.Fprintf(w, "Run %s (%s, %d worker(s)) %s\n", run.ID, run.Runner, run.Workers, run.State)

	t := newTable(w)
	t.AppendHeader(table.Row{"Task", "Status", "Started", "Duration", "Error"})
	for _, tr := range tasks {
		t.AppendRow(table.Row{tr.TaskID, tr.Status, formatTime(tr.StartedAt), formatDuration(tr.Duration), tr.Error})
	}
	t.Render()
}
