// Package crawl reads table metadata from a connection source, one
// scheduler task per table.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
	"github.com/leapstack-labs/leapcrawl/pkg/datasource"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
)

// ListTask is the ID of the task that enumerates tables.
const ListTask = "list-tables"

const tablePrefix = "table:"

// Source lends connections for the duration of a callback.
type Source interface {
	URL() string
	WithConn(ctx context.Context, fn func(*datasource.PooledConn) error) error
}

// Options tunes a crawl.
type Options struct {
	// Rules exclude tables by name. Nil means DefaultRules; an empty
	// non-nil slice crawls everything.
	Rules  []Rule
	Logger *slog.Logger
}

// Catalog is the result of a crawl.
type Catalog struct {
	URL      string              `json:"url"`
	Tables   []*adapter.Metadata `json:"tables"`
	Excluded []adapter.Table     `json:"excluded,omitempty"`
}

// Crawl lists the tables of source and reads the metadata of each one on
// runner. The runner must not have run tasks with the same IDs before; use
// a fresh runner per crawl. On failure the partial catalog is returned
// with the error.
func Crawl(ctx context.Context, source Source, runner *scheduler.TaskRunner, opts Options) (*Catalog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	catalog := &Catalog{URL: adapter.RedactURL(source.URL())}

	var tables []adapter.Table
	err := runner.Run(ctx, scheduler.Task{ID: ListTask, Run: func(ctx context.Context) error {
		return source.WithConn(ctx, func(conn *datasource.PooledConn) error {
			var err error
			tables, err = conn.ListTables(ctx)
			return err
		})
	}})
	if err != nil {
		return catalog, fmt.Errorf("failed to list tables: %w", err)
	}
	if runner.IsStopped() {
		return catalog, scheduler.ErrStopped
	}

	var tasks []scheduler.Task
	var mu sync.Mutex
	for _, tbl := range tables {
		if excluded(rules, tbl.Name) {
			catalog.Excluded = append(catalog.Excluded, tbl)
			continue
		}
		tasks = append(tasks, scheduler.Task{ID: tablePrefix + tbl.String(), Run: func(ctx context.Context) error {
			return source.WithConn(ctx, func(conn *datasource.PooledConn) error {
				md, err := conn.GetTableMetadata(ctx, tbl.String())
				if err != nil {
					return err
				}
				mu.Lock()
				catalog.Tables = append(catalog.Tables, md)
				mu.Unlock()
				return nil
			})
		}})
	}
	logger.Info("crawling tables",
		slog.String("url", catalog.URL),
		slog.Int("tables", len(tasks)),
		slog.Int("excluded", len(catalog.Excluded)))

	if len(tasks) > 0 {
		err = runner.Run(ctx, tasks...)
	}
	sortTables(catalog.Tables)

	switch {
	case err != nil:
		return catalog, err
	case runner.IsStopped():
		return catalog, scheduler.ErrStopped
	}
	return catalog, nil
}

func sortTables(tables []*adapter.Metadata) {
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Schema != tables[j].Schema {
			return tables[i].Schema < tables[j].Schema
		}
		return tables[i].Name < tables[j].Name
	})
}

// Failed returns the tables whose metadata could not be read, taken from
// the error returned by Crawl.
func Failed(err error) []string {
	var execErr *scheduler.TaskExecutionError
	if !errors.As(err, &execErr) {
		return nil
	}
	ids := execErr.TaskIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := strings.CutPrefix(id, tablePrefix); ok {
			out = append(out, name)
		}
	}
	return out
}
