package config

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
)

// Validate checks if the configuration is valid. The connection URL is
// checked separately by RequireURL since not every command needs one.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("pool.max_size must be at least 1, got %d", c.Pool.MaxSize))
	}
	if c.Pool.BorrowTimeout < 0 {
		errs = append(errs, fmt.Errorf("pool.borrow_timeout must not be negative, got %s", c.Pool.BorrowTimeout))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	return errors.Join(errs...)
}

// RequireURL checks that a connection URL is set and routes to a
// registered driver.
func (c *Config) RequireURL() error {
	if c.URL == "" {
		return errors.New("connection url is required\nHint: pass --url or set LEAPCRAWL_URL")
	}
	parsed, err := adapter.ParseURL(c.URL)
	if err != nil {
		return err
	}
	if !adapter.IsRegistered(parsed.Type) {
		return &adapter.UnknownAdapterError{Type: parsed.Type, Available: adapter.ListAdapters()}
	}
	return nil
}
