package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/leapstack-labs/leapcrawl/internal/sentinel"
)

const (
	// ErrNotConnected is returned when an adapter is used before Connect.
	ErrNotConnected = sentinel.Error("database connection not established")

	// ErrConnClosed is returned when an adapter is used after Close.
	ErrConnClosed = sentinel.Error("database connection is closed")
)

// Catalog describes how a driver lists tables and reads column metadata.
type Catalog struct {
	// DefaultSchema is used when a table name is not qualified.
	DefaultSchema string

	// TablesQuery returns two text columns: schema and table name.
	TablesQuery string

	// ColumnsQuery builds a query returning name, data type, nullability
	// ("YES" or "NO") and 1-based ordinal position for one table.
	ColumnsQuery func(schema, table string) (string, []any)
}

// BaseSQLAdapter provides the database/sql plumbing shared by all drivers.
// Embed it in concrete adapters; they only implement Connect and the
// catalog lookups.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger

	closed atomic.Bool
}

// OpenSingle opens a *sql.DB pinned to one physical connection and pings it.
// On success the handle is stored in b.DB.
func (b *BaseSQLAdapter) OpenSingle(ctx context.Context, driverName, dsn string) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", driverName, err)
	}
	b.attach(db)

	if err := db.PingContext(ctx); err != nil {
		_ = b.Close()
		return fmt.Errorf("failed to ping %s: %w", driverName, err)
	}
	return nil
}

// Attach adopts an already opened *sql.DB, pinning it to one connection.
func (b *BaseSQLAdapter) Attach(db *sql.DB, cfg Config) {
	b.attach(db)
	b.Cfg = cfg
}

func (b *BaseSQLAdapter) attach(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	b.DB = db
	b.closed.Store(false)
}

func (b *BaseSQLAdapter) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil || b.closed.Swap(true) {
		return nil
	}
	b.logger().Debug("closing database connection", slog.String("url", b.Cfg.URL))
	return b.DB.Close()
}

// IsClosed reports whether the connection is terminated or was never opened.
func (b *BaseSQLAdapter) IsClosed() bool {
	return b.DB == nil || b.closed.Load()
}

// URL returns the connection identity.
func (b *BaseSQLAdapter) URL() string {
	return b.Cfg.URL
}

func (b *BaseSQLAdapter) usable() error {
	if b.DB == nil {
		return ErrNotConnected
	}
	if b.closed.Load() {
		return ErrConnClosed
	}
	return nil
}

// Ping verifies the connection is alive.
func (b *BaseSQLAdapter) Ping(ctx context.Context) error {
	if err := b.usable(); err != nil {
		return err
	}
	if err := b.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if err := b.usable(); err != nil {
		return err
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*Rows, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &Rows{Rows: rows}, nil
}

// BeginTx starts a transaction.
func (b *BaseSQLAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	tx, err := b.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// ParseQualifiedName splits a table reference into schema and name.
// defaultSchema is used when the reference is not qualified.
func ParseQualifiedName(table, defaultSchema string) (schema, name string) {
	if parts := strings.SplitN(table, ".", 2); len(parts) == 2 {
		return parts[0], parts[1]
	}
	return defaultSchema, table
}

// QuoteIdent quotes an identifier with double quotes.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ListTablesCommon runs the catalog's table listing query.
func (b *BaseSQLAdapter) ListTablesCommon(ctx context.Context, c *Catalog) ([]Table, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}

	rows, err := b.DB.QueryContext(ctx, c.TablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// GetTableMetadataCommon reads column metadata and the row count of a table
// using the catalog's queries.
func (b *BaseSQLAdapter) GetTableMetadataCommon(ctx context.Context, table string, c *Catalog) (*Metadata, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}

	schema, tableName := ParseQualifiedName(table, c.DefaultSchema)
	query, args := c.ColumnsQuery(schema, tableName)

	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	// Release the single connection before the count query.
	_ = rows.Close()

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", QuoteIdent(schema), QuoteIdent(tableName)) //nolint:gosec // identifiers are quoted
	var rowCount int64
	if err := b.DB.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
		b.logger().Debug("row count unavailable", slog.String("table", table), slog.String("error", err.Error()))
		rowCount = 0
	}

	return &Metadata{
		Schema:   schema,
		Name:     tableName,
		Columns:  columns,
		RowCount: rowCount,
	}, nil
}
