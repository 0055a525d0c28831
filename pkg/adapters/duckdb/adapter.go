// Package duckdb provides the DuckDB raw connection driver.
//
// "duckdb:<path>" opens a database file; "duckdb::memory:" (or an empty
// path) opens an in-memory database. Connections with the same address share
// one database instance inside the process, so every connection of a source
// sees the same data.
package duckdb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
)

const memoryPath = ":memory:"

// Params holds DuckDB specific configuration.
type Params struct {
	// Extensions to install and load (e.g., "httpfs", "json").
	Extensions []string `mapstructure:"extensions"`

	// Settings applied with SET after the connection opens (e.g., threads).
	Settings map[string]string `mapstructure:"settings"`
}

var catalog = &adapter.Catalog{
	DefaultSchema: "main",
	TablesQuery: `SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('information_schema', 'pg_catalog')
		ORDER BY table_schema, table_name`,
	ColumnsQuery: func(schema, table string) (string, []any) {
		return `SELECT column_name, data_type, is_nullable, ordinal_position
			FROM information_schema.columns
			WHERE table_schema = ? AND table_name = ?
			ORDER BY ordinal_position`, []any{schema, table}
	},
}

// Adapter implements adapter.Adapter for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter

	releaseOnce sync.Once
	release     func() error
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens a connection to the database instance for cfg.Address.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	var params Params
	if err := adapter.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	path := strings.TrimSpace(cfg.Address)
	if path == "" {
		path = memoryPath
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, release, err := acquire(path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	a.release = release
	a.Attach(db, cfg)

	if err := a.Ping(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	for _, stmt := range setupStatements(params) {
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// Close terminates the connection and drops this connection's reference to
// the shared database instance.
func (a *Adapter) Close() error {
	err := a.BaseSQLAdapter.Close()
	a.releaseOnce.Do(func() {
		if a.release != nil {
			if rerr := a.release(); rerr != nil && err == nil {
				err = rerr
			}
		}
	})
	return err
}

func setupStatements(p Params) []string {
	var stmts []string
	for _, ext := range p.Extensions {
		stmts = append(stmts, "INSTALL "+ext, "LOAD "+ext)
	}

	names := make([]string, 0, len(p.Settings))
	for name := range p.Settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", name, strings.ReplaceAll(p.Settings[name], "'", "''")))
	}
	return stmts
}

// ListTables returns base tables outside the system schemas.
func (a *Adapter) ListTables(ctx context.Context) ([]adapter.Table, error) {
	return a.ListTablesCommon(ctx, catalog)
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, catalog)
}

var _ adapter.Adapter = (*Adapter)(nil)
