package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
)

// PooledConn is a handle on a raw connection checked out of a Pool.
// Closing the handle returns the connection to its source; it never
// terminates the raw connection. A handle must not be used after Close.
type PooledConn struct {
	id       string
	pool     *Pool
	conn     *rawConn
	token    uint64
	released atomic.Bool
}

// ID returns the handle identifier reported in leak errors.
func (h *PooledConn) ID() string {
	return h.id
}

// URL returns the identity of the handle's source.
func (h *PooledConn) URL() string {
	return h.pool.url
}

// Unwrap returns the raw connection behind the handle.
func (h *PooledConn) Unwrap() adapter.Adapter {
	return h.conn.raw
}

func (h *PooledConn) raw() (adapter.Adapter, error) {
	if h == nil || h.released.Load() {
		return nil, ErrClosed
	}
	return h.conn.raw, nil
}

// Exec executes a statement that doesn't return rows.
func (h *PooledConn) Exec(ctx context.Context, sql string) error {
	raw, err := h.raw()
	if err != nil {
		return err
	}
	return raw.Exec(ctx, sql)
}

// Query executes a statement that returns rows. The rows must be closed
// before the handle is used again.
func (h *PooledConn) Query(ctx context.Context, sql string) (*adapter.Rows, error) {
	raw, err := h.raw()
	if err != nil {
		return nil, err
	}
	return raw.Query(ctx, sql)
}

// BeginTx starts a transaction on the raw connection.
func (h *PooledConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	raw, err := h.raw()
	if err != nil {
		return nil, err
	}
	return raw.BeginTx(ctx, opts)
}

// Ping verifies the raw connection is alive.
func (h *PooledConn) Ping(ctx context.Context) error {
	raw, err := h.raw()
	if err != nil {
		return err
	}
	return raw.Ping(ctx)
}

// ListTables lists the tables visible to the connection.
func (h *PooledConn) ListTables(ctx context.Context) ([]adapter.Table, error) {
	raw, err := h.raw()
	if err != nil {
		return nil, err
	}
	return raw.ListTables(ctx)
}

// GetTableMetadata reads column metadata of a table.
func (h *PooledConn) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	raw, err := h.raw()
	if err != nil {
		return nil, err
	}
	return raw.GetTableMetadata(ctx, table)
}

// IsClosed reports whether the handle was released. A nil handle is closed.
func (h *PooledConn) IsClosed() bool {
	return h == nil || h.released.Load()
}

// Close releases the handle back to its source.
func (h *PooledConn) Close() error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrInvalidState)
	}
	return h.pool.Release(h)
}

// Terminate physically closes the raw connection and releases the handle.
// The source opens a replacement on a later borrow.
func (h *PooledConn) Terminate() error {
	if h.IsClosed() {
		return ErrClosed
	}
	cerr := h.conn.raw.Close()
	return errors.Join(cerr, h.pool.release(h, true))
}
