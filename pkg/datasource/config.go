package datasource

import (
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapcrawl/internal/telemetry"
)

// Config tunes a connection source.
type Config struct {
	// MaxSize bounds the number of raw connections. Defaults to 1.
	MaxSize int

	// BorrowTimeout bounds how long Borrow waits for a connection.
	// Zero means Borrow waits until its context is done.
	BorrowTimeout time.Duration

	// ForceClose makes Close terminate connections that are still checked
	// out instead of reporting them as leaked.
	ForceClose bool

	// Params are passed to the driver as adapter.Config.Params.
	Params map[string]any

	Logger    *slog.Logger
	Collector telemetry.Collector
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 1
	}
	if c.BorrowTimeout < 0 {
		c.BorrowTimeout = 0
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Collector == nil {
		c.Collector = telemetry.Noop()
	}
	return c
}
