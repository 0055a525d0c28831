package scheduler

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Report renders the runner's state when called. Building the string is
// deferred until the report is printed or logged.
type Report func() string

// String implements fmt.Stringer.
func (r Report) String() string {
	return r()
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.StringValue(r())
}

// Report returns a deferred description of the runner: its id, state and
// every task with its status, in submission order.
func (r *TaskRunner) Report() Report {
	return func() string {
		r.mu.Lock()
		defer r.mu.Unlock()

		var b strings.Builder
		fmt.Fprintf(&b, "runner %s (%s, %d worker(s)) %s", r.id, r.name, r.workers, r.state)
		for _, id := range r.order {
			ts := r.tasks[id]
			fmt.Fprintf(&b, "\n  %s: %s", id, ts.status)
			if ts.duration > 0 {
				fmt.Fprintf(&b, " in %s", ts.duration.Round(time.Microsecond))
			}
		}
		return b.String()
	}
}
