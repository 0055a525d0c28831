package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func taskIDs(tasks []scheduler.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// printStatuses renders one line per task in submission order.
func printStatuses(w io.Writer, runner *scheduler.TaskRunner, ids []string) {
	statuses := runner.Statuses()
	for _, id := range ids {
		status, ok := statuses[id]
		if !ok {
			status = "skipped"
		}
		_, _ = fmt.Fprintf(w, "%-10s %s\n", status, id)
	}
}

// finishRun turns the outcome of a runner into the command result.
func finishRun(runner *scheduler.TaskRunner, err error) error {
	if err != nil {
		return err
	}
	if runner.IsStopped() {
		return scheduler.ErrStopped
	}
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
