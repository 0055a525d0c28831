package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/leapcrawl/pkg/adapters/sqlite"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("url", "", "")
	fs.String("user", "", "")
	fs.Int("pool-size", 0, "")
	fs.Duration("borrow-timeout", 0, "")
	fs.Bool("force-close", false, "")
	fs.Int("workers", 0, "")
	fs.String("state", "", "")
	fs.Bool("verbose", false, "")
	fs.String("log-format", "", "")
	fs.String("metrics-file", "", "")
	return fs
}

// chdir moves into an empty directory so no stray config file is found.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "leapcrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t)
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, DefaultPoolSize, cfg.Pool.MaxSize)
	assert.Zero(t, cfg.Pool.BorrowTimeout)
	assert.False(t, cfg.Pool.ForceClose)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Empty(t, cfg.URL)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := chdir(t)
	ResetConfig()
	writeConfig(t, dir, `
url: sqlite:/data/app.db
user: file-user
workers: 2
state_path: journal/state.db
pool:
  max_size: 3
  borrow_timeout: 5s
params:
  busy_timeout_ms: 100
exclude:
  - tmp_.*
`)
	t.Setenv("LEAPCRAWL_WORKERS", "6")
	t.Setenv("LEAPCRAWL_POOL_MAX_SIZE", "7")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--url", "mem:flagged", "--borrow-timeout", "250ms"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "mem:flagged", cfg.URL, "flag beats file")
	assert.Equal(t, "file-user", cfg.User)
	assert.Equal(t, 6, cfg.Workers, "env beats file")
	assert.Equal(t, 7, cfg.Pool.MaxSize, "env maps onto nested keys")
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.BorrowTimeout, "flag beats file")
	assert.Equal(t, []string{"tmp_.*"}, cfg.Exclude)
	assert.EqualValues(t, 100, cfg.Params["busy_timeout_ms"])
	assert.Equal(t, filepath.Join(dir, "journal", "state.db"), cfg.StatePath, "file paths resolve against the file")
	assert.Equal(t, filepath.Join(dir, "leapcrawl.yaml"), GetConfigFileUsed())
}

func TestLoadConfig_UnchangedFlagsDoNotOverride(t *testing.T) {
	dir := chdir(t)
	ResetConfig()
	writeConfig(t, dir, "pool:\n  max_size: 9\n")

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Pool.MaxSize)
}

func TestLoadConfig_FlagKeyMapping(t *testing.T) {
	chdir(t)
	ResetConfig()

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--pool-size", "2", "--force-close", "--state", "/tmp/j.db", "--log-format", "json"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pool.MaxSize)
	assert.True(t, cfg.Pool.ForceClose)
	assert.Equal(t, "/tmp/j.db", cfg.StatePath)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	chdir(t)
	ResetConfig()
	other := t.TempDir()
	path := writeConfig(t, other, "url: duckdb::memory:\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "duckdb::memory:", cfg.URL)
	assert.Equal(t, path, GetConfigFileUsed())

	_, err = LoadConfig(filepath.Join(other, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	dir := chdir(t)
	ResetConfig()
	writeConfig(t, dir, "url: postgres://db/${LEAPCRAWL_TEST_DB}\npassword: ${LEAPCRAWL_TEST_SECRET}\nuser: ${LEAPCRAWL_TEST_UNSET_VAR}\n")
	t.Setenv("LEAPCRAWL_TEST_DB", "warehouse")
	t.Setenv("LEAPCRAWL_TEST_SECRET", "s3cret")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/warehouse", cfg.URL)
	assert.Equal(t, "s3cret", cfg.Password)
	assert.Equal(t, "${LEAPCRAWL_TEST_UNSET_VAR}", cfg.User)
	assert.True(t, cfg.HasCredentials())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		errSubstr string
	}{
		{name: "zero pool", body: "pool:\n  max_size: 0\n", errSubstr: "pool.max_size must be at least 1"},
		{name: "negative timeout", body: "pool:\n  borrow_timeout: -1s\n", errSubstr: "pool.borrow_timeout must not be negative"},
		{name: "negative workers", body: "workers: -2\n", errSubstr: "workers must not be negative"},
		{name: "bad log format", body: "log_format: xml\n", errSubstr: "log_format must be text or json"},
		{name: "bad yaml", body: "pool: [\n", errSubstr: "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdir(t)
			ResetConfig()
			writeConfig(t, dir, tt.body)

			_, err := LoadConfig("", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_RequireURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		errSubstr string
	}{
		{name: "registered", url: "mem:ok"},
		{name: "missing", url: "", errSubstr: "connection url is required"},
		{name: "malformed", url: "no-scheme", errSubstr: "malformed"},
		{name: "unknown scheme", url: "oracle://db", errSubstr: "unknown adapter type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Config{URL: tt.url}).RequireURL()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
