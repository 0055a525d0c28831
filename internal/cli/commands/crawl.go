package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapcrawl/internal/crawl"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/spf13/cobra"
)

// CrawlOptions holds options for the crawl command.
type CrawlOptions struct {
	Exclude        []string
	NoDefaultRules bool
	Output         string
	ShowColumns    bool
}

// NewCrawlCommand creates the crawl command.
func NewCrawlCommand() *cobra.Command {
	opts := &CrawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Read table and column metadata from a database",
		Long: `List the tables of the configured database and read the columns and row
count of each one, in parallel over the connection source.

Bookkeeping tables left by Django, Liquibase, Flyway, Entity Framework and
Android are skipped unless --no-default-excludes is given.`,
		Example: `  leapcrawl crawl --url sqlite:app.db
  leapcrawl crawl --url postgres://localhost/shop --pool-size 8 --workers 8 --columns
  leapcrawl crawl --url duckdb:lake.duckdb --exclude 'tmp_.*' -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "Regular expressions of table names to skip")
	cmd.Flags().BoolVar(&opts.NoDefaultRules, "no-default-excludes", false, "Crawl framework bookkeeping tables too")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format (table|json)")
	cmd.Flags().BoolVar(&opts.ShowColumns, "columns", false, "List the columns of every table")

	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runCrawl(cmd *cobra.Command, opts *CrawlOptions) error {
	if opts.Output != "table" && opts.Output != "json" {
		return fmt.Errorf("unknown output format %q (expected table or json)", opts.Output)
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	rules, err := crawlRules(cc.Cfg.Exclude, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := cc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer cc.CloseSource(pool)

	runner := scheduler.NewParallel(cc.RunnerConfig("crawl"))
	defer stopOnDone(ctx, runner, cc.Logger)()

	catalog, err := crawl.Crawl(ctx, pool, runner, crawl.Options{Rules: rules, Logger: cc.Logger})
	if catalog != nil {
		if opts.Output == "json" {
			if rerr := renderJSON(cmd.OutOrStdout(), catalog); rerr != nil {
				return rerr
			}
		} else {
			renderCatalog(cmd.OutOrStdout(), catalog, opts.ShowColumns)
		}
	}
	if failed := crawl.Failed(err); len(failed) > 0 {
		cc.Logger.Error("some tables could not be read", slog.String("tables", strings.Join(failed, ", ")))
	}
	return err
}

func crawlRules(configured []string, opts *CrawlOptions) ([]crawl.Rule, error) {
	var rules []crawl.Rule
	if opts.NoDefaultRules {
		rules = []crawl.Rule{}
	} else {
		rules = crawl.DefaultRules()
	}
	extra, err := crawl.ParseRules(append(append([]string{}, configured...), opts.Exclude...))
	if err != nil {
		return nil, err
	}
	return append(rules, extra...), nil
}

func renderCatalog(w io.Writer, catalog *crawl.Catalog, columns bool) {
	if len(catalog.Tables) == 0 {
		_, _ = fmt.Fprintln(w, "(0 tables)")
		return
	}

	t := newTable(w)
	if columns {
		t.AppendHeader(table.Row{"Table", "#", "Column", "Type", "Nullable"})
		for _, md := range catalog.Tables {
			for _, col := range md.Columns {
				nullable := ""
				if col.Nullable {
					nullable = "yes"
				}
				t.AppendRow(table.Row{md.Schema + "." + md.Name, col.Position, col.Name, col.Type, nullable})
			}
			t.AppendSeparator()
		}
	} else {
		t.AppendHeader(table.Row{"Schema", "Table", "Columns", "Rows"})
		for _, md := range catalog.Tables {
			t.AppendRow(table.Row{md.Schema, md.Name, len(md.Columns), md.RowCount})
		}
	}
	t.Render()

	_, _ = fmt.Fprintf(w, "(%d tables, %d excluded)\n", len(catalog.Tables), len(catalog.Excluded))
}
