// Package cli provides the command-line interface for leapcrawl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/leapcrawl/internal/cli/commands"
	"github.com/leapstack-labs/leapcrawl/internal/cli/config"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/spf13/cobra"

	_ "github.com/leapstack-labs/leapcrawl/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/leapcrawl/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/leapcrawl/pkg/adapters/sqlite"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leapcrawl",
		Short: "leapcrawl - pooled database connections, SQL scripts and crawls",
		Long: `leapcrawl opens a bounded pool of connections to a database named by a
"scheme:address" URL, runs SQL scripts and plans on sequential or parallel
task runners, crawls table metadata and journals every run.

Supported schemes: mem, sqlite, duckdb, postgres.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg)
			cmd.SetContext(config.WithLogger(cmd.Context(), logger))

			if used := config.GetConfigFileUsed(); used != "" {
				logger.Info("using config file", slog.String("path", used))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: leapcrawl.yaml, searched upward)")
	flags.String("url", "", "Connection URL, e.g. mem:scratch, sqlite:app.db, duckdb::memory:, postgres://host/db")
	flags.String("user", "", "Database user")
	flags.Int("pool-size", config.DefaultPoolSize, "Maximum connections held by the pool")
	flags.Duration("borrow-timeout", 0, "How long to wait for a free connection (0 waits forever)")
	flags.Bool("force-close", false, "Terminate connections still checked out when the pool closes")
	flags.Int("workers", 0, "Parallel workers (default: number of CPUs)")
	flags.String("state", "", "Path to the run journal")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.String("log-format", config.DefaultLogFormat, "Log format (text|json)")
	flags.String("metrics-file", "", "Write Prometheus metrics to this file on exit")

	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewExecCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewCrawlCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())

	return rootCmd
}

// newLogger builds the process logger. Warnings and errors are always
// shown; --verbose adds info and debug output.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if cfg.Verbose {
		opts.Level = slog.LevelDebug
	}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which stops the active task runner.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			fmt.Fprintln(os.Stderr, "Interrupted")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return err
	}
	return nil
}
