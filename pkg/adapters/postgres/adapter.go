// Package postgres provides the PostgreSQL raw connection driver.
//
// Both "postgres:" and "postgresql:" identities are accepted. The address is
// either a URL ("postgres://host:5432/db?sslmode=disable") or a key/value
// DSN ("postgres:host=localhost dbname=app").
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
)

// Params holds PostgreSQL specific configuration.
type Params struct {
	SearchPath      string `mapstructure:"search_path"`
	ApplicationName string `mapstructure:"application_name"`
}

const defaultApplicationName = "leapcrawl"

var catalog = &adapter.Catalog{
	DefaultSchema: "public",
	TablesQuery: `SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`,
	ColumnsQuery: func(schema, table string) (string, []any) {
		return `SELECT column_name, data_type, is_nullable, ordinal_position
			FROM information_schema.columns
			WHERE table_schema = $1 AND table_name = $2
			ORDER BY ordinal_position`, []any{schema, table}
	},
}

// Adapter implements adapter.Adapter for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	connConfig, err := buildConnConfig(cfg)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to postgres",
		slog.String("host", connConfig.Host),
		slog.String("database", connConfig.Database))

	a.Attach(stdlib.OpenDB(*connConfig), cfg)
	if err := a.Ping(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// buildConnConfig turns an identity plus credentials and params into a pgx
// connection config. Explicit credentials win over those embedded in the URL.
func buildConnConfig(cfg adapter.Config) (*pgx.ConnConfig, error) {
	var params Params
	if err := adapter.DecodeParams(cfg.Params, &params); err != nil {
		return nil, err
	}

	connString := cfg.Address
	if strings.HasPrefix(connString, "//") {
		connString = cfg.URL
	}

	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrMalformedURL, err)
	}

	if cfg.Username != "" {
		connConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		connConfig.Password = cfg.Password
	}

	if params.SearchPath != "" {
		connConfig.RuntimeParams["search_path"] = params.SearchPath
	}
	switch {
	case params.ApplicationName != "":
		connConfig.RuntimeParams["application_name"] = params.ApplicationName
	case connConfig.RuntimeParams["application_name"] == "":
		connConfig.RuntimeParams["application_name"] = defaultApplicationName
	}
	return connConfig, nil
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
