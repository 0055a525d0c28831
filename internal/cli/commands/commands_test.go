package commands

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/leapstack-labs/leapcrawl/internal/cli/config"
	"github.com/leapstack-labs/leapcrawl/internal/crawl"
	"github.com/leapstack-labs/leapcrawl/pkg/scheduler"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommands(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{cmd: NewExecCommand(), use: "exec <script>..."},
		{cmd: NewRunCommand(), use: "run <plan.yaml>"},
		{cmd: NewCrawlCommand(), use: "crawl", flags: []string{"exclude", "no-default-excludes", "output", "columns"}},
		{cmd: NewHistoryCommand(), use: "history [run-id]", flags: []string{"limit", "output"}},
		{cmd: NewVersionCommand("1.2.3"), use: "version"},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)
	assert.Contains(t, out.String(), "leapcrawl v1.2.3")
}

func TestCrawlRules(t *testing.T) {
	tests := []struct {
		name       string
		configured []string
		opts       CrawlOptions
		excluded   []string
		kept       []string
		wantErr    bool
	}{
		{
			name:     "defaults",
			excluded: []string{"django_session", "android_metadata"},
			kept:     []string{"customers"},
		},
		{
			name:       "config and flag patterns add to defaults",
			configured: []string{"tmp_.*"},
			opts:       CrawlOptions{Exclude: []string{"audit"}},
			excluded:   []string{"tmp_x", "audit", "auth_user"},
			kept:       []string{"audit_log"},
		},
		{
			name:     "defaults disabled",
			opts:     CrawlOptions{NoDefaultRules: true},
			kept:     []string{"django_session", "auth_user"},
			excluded: nil,
		},
		{
			name:    "bad pattern",
			opts:    CrawlOptions{Exclude: []string{"("}},
			wantErr: true,
		},
	}

	matches := func(rules []crawl.Rule, name string) bool {
		for _, r := range rules {
			if r.Match(name) {
				return true
			}
		}
		return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := crawlRules(tt.configured, &tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, name := range tt.excluded {
				assert.True(t, matches(rules, name), "%s should be excluded", name)
			}
			for _, name := range tt.kept {
				assert.False(t, matches(rules, name), "%s should be kept", name)
			}
		})
	}
}

func TestFinishRun(t *testing.T) {
	runner := scheduler.NewSequential(scheduler.Config{})
	require.NoError(t, runner.Run(context.Background(), scheduler.Task{ID: "a", Run: func(context.Context) error { return nil }}))
	assert.NoError(t, finishRun(runner, nil))

	require.NoError(t, runner.Stop())
	assert.ErrorIs(t, finishRun(runner, nil), scheduler.ErrStopped)
}

func TestStopOnDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := scheduler.NewSequential(scheduler.Config{})

	detach := stopOnDone(ctx, runner, config.GetLogger(ctx))
	defer detach()

	cancel()
	assert.Eventually(t, runner.IsStopped, time.Second, time.Millisecond)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "-", formatTime(nil))
	assert.Equal(t, "-", formatTime(&time.Time{}))
}
