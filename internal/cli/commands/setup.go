package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapcrawl/internal/cli/config"
	"github.com/leapstack-labs/leapcrawl/internal/state"
	"github.com/leapstack-labs/leapcrawl/internal/telemetry"
	"github.com/leapstack-labs/leapcrawl/pkg/credentials"
	"github.com/leapstack-labs/leapcrawl/pkg/datasource"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Collector telemetry.Collector
	Journal   *state.SQLiteStore

	registry *prometheus.Registry
}

// NewCommandContext builds the metrics collector and opens the run journal.
// The returned cleanup closes the journal and flushes metrics; it must be
// called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutJournal(cmd)

	if cc.Cfg.MetricsFile != "" {
		cc.registry = prometheus.NewRegistry()
		collector, err := telemetry.NewPrometheusCollector(cc.registry)
		if err != nil {
			return nil, nil, err
		}
		cc.Collector = collector
	}

	journal, err := openJournal(cmd.Context(), cc.Cfg.StatePath, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Journal = journal

	cleanup := func() {
		if err := journal.Close(); err != nil {
			cc.Logger.Warn("failed to close journal", slog.String("error", err.Error()))
		}
		if cc.registry != nil {
			if err := telemetry.WriteTextfile(cc.Cfg.MetricsFile, cc.registry); err != nil {
				cc.Logger.Warn("failed to write metrics", slog.String("error", err.Error()))
			}
		}
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutJournal creates a CommandContext for commands
// that neither connect nor record runs.
func NewCommandContextWithoutJournal(cmd *cobra.Command) *CommandContext {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		cfg = &config.Config{
			StatePath: config.DefaultStateFile,
			Pool:      config.PoolConfig{MaxSize: config.DefaultPoolSize},
			LogFormat: config.DefaultLogFormat,
		}
	}
	return &CommandContext{
		Cfg:       cfg,
		Logger:    config.GetLogger(cmd.Context()),
		Collector: telemetry.Noop(),
	}
}

func openJournal(ctx context.Context, path string, logger *slog.Logger) (*state.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	journal := state.NewSQLiteStore(logger)
	if err := journal.Open(ctx, path); err != nil {
		return nil, err
	}
	return journal, nil
}

// OpenSource opens the connection source named by the configuration.
// Configured credentials are handed over as single-use credentials and
// cleared from the configuration. The source keeps them until it is closed
// so it can open further connections.
func (cc *CommandContext) OpenSource(ctx context.Context) (*datasource.Pool, error) {
	if err := cc.Cfg.RequireURL(); err != nil {
		return nil, err
	}

	var creds credentials.Provider = credentials.Embedded()
	if cc.Cfg.HasCredentials() {
		creds = credentials.SingleUse(cc.Cfg.User, cc.Cfg.Password)
		cc.Cfg.Password = ""
	}

	return datasource.Open(ctx, cc.Cfg.URL, creds, datasource.Config{
		MaxSize:       cc.Cfg.Pool.MaxSize,
		BorrowTimeout: cc.Cfg.Pool.BorrowTimeout,
		ForceClose:    cc.Cfg.Pool.ForceClose,
		Params:        cc.Cfg.Params,
		Logger:        cc.Logger,
		Collector:     cc.Collector,
	})
}

// CloseSource closes pool and logs, rather than returns, leak reports.
func (cc *CommandContext) CloseSource(pool *datasource.Pool) {
	if err := pool.Close(); err != nil {
		var leak *datasource.LeakError
		if errors.As(err, &leak) {
			cc.Logger.Error("connections leaked", slog.String("url", leak.URL), slog.Any("handles", leak.Handles))
			return
		}
		cc.Logger.Warn("failed to close connection source", slog.String("error", err.Error()))
	}
}

// RunnerConfig returns a scheduler configuration wired to the journal,
// logger and metrics.
func (cc *CommandContext) RunnerConfig(name string) scheduler.Config {
	cfg := scheduler.Config{
		Name:      name,
		Workers:   cc.Cfg.Workers,
		Logger:    cc.Logger,
		Collector: cc.Collector,
	}
	if cc.Journal != nil {
		cfg.Recorder = cc.Journal
	}
	return cfg
}

// stopOnDone stops runner once ctx ends. The returned func detaches it.
func stopOnDone(ctx context.Context, runner *scheduler.TaskRunner, logger *slog.Logger) func() bool {
	return context.AfterFunc(ctx, func() {
		logger.Info("stopping tasks")
		if err := runner.Stop(); err != nil {
			logger.Warn("failed to stop runner", slog.String("error", err.Error()))
		}
	})
}
