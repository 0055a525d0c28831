// Package sqlite provides the SQLite raw connection driver.
//
// Two schemes are served: "sqlite:<path>" opens a database file and
// "mem:<name>" opens a named in-memory database shared by every connection
// using the same name within the process.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const driverName = "sqlite"

// Params holds SQLite specific configuration.
type Params struct {
	// Pragmas applied right after the connection opens, e.g. foreign_keys: "on".
	Pragmas map[string]string `mapstructure:"pragmas"`

	// BusyTimeoutMS sets PRAGMA busy_timeout. Zero keeps the default of 5000.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
}

const defaultBusyTimeoutMS = 5000

var catalog = &adapter.Catalog{
	DefaultSchema: "main",
	TablesQuery: `SELECT 'main', name FROM sqlite_master
		WHERE type = 'table'
		ORDER BY name`,
	ColumnsQuery: func(schema, table string) (string, []any) {
		return `SELECT name, type,
				CASE WHEN "notnull" = 0 AND pk = 0 THEN 'YES' ELSE 'NO' END,
				cid + 1
			FROM pragma_table_info(?, ?)
			ORDER BY cid`, []any{table, schema}
	},
}

// Adapter implements adapter.Adapter for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens the database file or named in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	var params Params
	if err := adapter.DecodeParams(cfg.Params, &params); err != nil {
		return err
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return err
	}

	a.Cfg = cfg
	a.Logger.Debug("connecting to sqlite", slog.String("url", cfg.URL))

	if err := a.OpenSingle(ctx, driverName, dsn); err != nil {
		return err
	}

	for _, stmt := range pragmaStatements(params) {
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// buildDSN maps a connection identity onto a modernc.org/sqlite DSN.
func buildDSN(cfg adapter.Config) (string, error) {
	switch cfg.Type {
	case "mem":
		name := strings.TrimSpace(cfg.Address)
		if name == "" {
			return "", fmt.Errorf("%w: in-memory database needs a name", adapter.ErrMalformedURL)
		}
		return "file:" + url.PathEscape(name) + "?mode=memory&cache=shared", nil
	default:
		path := strings.TrimSpace(cfg.Address)
		if path == "" {
			return "", fmt.Errorf("%w: sqlite database path is empty", adapter.ErrMalformedURL)
		}
		return path, nil
	}
}

func pragmaStatements(p Params) []string {
	timeout := p.BusyTimeoutMS
	if timeout <= 0 {
		timeout = defaultBusyTimeoutMS
	}
	stmts := []string{fmt.Sprintf("PRAGMA busy_timeout = %d", timeout)}

	names := make([]string, 0, len(p.Pragmas))
	for name := range p.Pragmas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stmts = append(stmts, fmt.Sprintf("PRAGMA %s = %s", name, p.Pragmas[name]))
	}
	return stmts
}

// ListTables returns the tables of the main schema, internal ones included.
func (a *Adapter) ListTables(ctx context.Context) ([]adapter.Table, error) {
	return a.ListTablesCommon(ctx, catalog)
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, catalog)
}

var _ adapter.Adapter = (*Adapter)(nil)
