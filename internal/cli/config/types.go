// Package config loads leapcrawl CLI configuration from defaults, a YAML
// file, LEAPCRAWL_ environment variables and command-line flags.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	URL         string         `koanf:"url"`
	User        string         `koanf:"user"`
	Password    string         `koanf:"password"`
	Pool        PoolConfig     `koanf:"pool"`
	Workers     int            `koanf:"workers"`
	StatePath   string         `koanf:"state_path"`
	Verbose     bool           `koanf:"verbose"`
	LogFormat   string         `koanf:"log_format"`
	MetricsFile string         `koanf:"metrics_file"`
	Params      map[string]any `koanf:"params"`
	Exclude     []string       `koanf:"exclude"`
}

// PoolConfig tunes the connection source.
type PoolConfig struct {
	MaxSize       int           `koanf:"max_size"`
	BorrowTimeout time.Duration `koanf:"borrow_timeout"`
	ForceClose    bool          `koanf:"force_close"`
}

// HasCredentials reports whether a user or password was configured.
func (c *Config) HasCredentials() bool {
	return c.User != "" || c.Password != ""
}

// Default configuration values.
const (
	DefaultStateFile = ".leapcrawl/state.db"
	DefaultPoolSize  = 4
	DefaultLogFormat = "text"
)
