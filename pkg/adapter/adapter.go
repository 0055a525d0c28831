// Package adapter defines the raw connection contract used by leapcrawl.
//
// A raw connection is an Adapter holding exactly one physical database
// connection. Concrete drivers live in pkg/adapters/ subdirectories and
// register themselves by URL scheme from their init functions.
package adapter

import (
	"context"
	"database/sql"
)

// Config holds everything a driver needs to open a raw connection.
type Config struct {
	// Type is the lower-cased URL scheme, used to pick the driver.
	Type string
	// URL is the full connection identity, e.g. "mem:test1".
	URL string
	// Address is the part of URL after the scheme separator.
	Address  string
	Username string
	Password string
	// Params holds driver specific settings, decoded by each driver.
	Params map[string]any
}

// Column represents a column in a database table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Position int    `json:"position"`
}

// Metadata holds metadata about a database table.
type Metadata struct {
	Schema   string   `json:"schema"`
	Name     string   `json:"name"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Table identifies a table inside a database.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String returns the qualified table name.
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Rows wraps sql.Rows. Callers must close it before issuing the next
// statement on the same raw connection.
type Rows struct {
	*sql.Rows
}

// Adapter is a raw connection: one physical connection to one database.
type Adapter interface {
	// Connect opens the physical connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close physically terminates the connection. Closing twice is a no-op.
	Close() error

	// IsClosed reports whether the connection was terminated or never opened.
	IsClosed() bool

	// Ping verifies the connection is still alive.
	Ping(ctx context.Context) error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// BeginTx starts a transaction on the connection.
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	// ListTables returns the user tables visible to the connection.
	ListTables(ctx context.Context) ([]Table, error)

	// GetTableMetadata retrieves metadata for a specified table.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// URL returns the identity the connection was opened with.
	URL() string
}
