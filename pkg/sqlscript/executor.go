package sqlscript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strings"
)

// Execer runs one statement. *datasource.PooledConn and every
// adapter.Adapter satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// Executor runs scripts found on disk or in a bundled file system.
type Executor struct {
	bundled fs.FS
	logger  *slog.Logger
}

// New returns an executor that falls back to bundled when a script is not
// found on disk. bundled may be nil; a nil logger discards logs.
func New(bundled fs.FS, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{bundled: bundled, logger: logger}
}

// Execute runs the script at path name on conn using an executor without
// bundled scripts.
func Execute(ctx context.Context, name string, conn Execer) error {
	return New(nil, nil).Execute(ctx, name, conn)
}

// Execute resolves name, splits it into statements and runs them in order.
// The first failing statement aborts the script with a *ScriptError.
func (e *Executor) Execute(ctx context.Context, name string, conn Execer) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: script name", ErrNilArgument)
	}
	if isNil(conn) {
		return fmt.Errorf("%w: connection", ErrNilArgument)
	}

	f, err := e.open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return e.ExecuteReader(ctx, name, f, conn)
}

// ExecuteReader runs the statements read from r. resource names the script
// in logs and errors.
func (e *Executor) ExecuteReader(ctx context.Context, resource string, r io.Reader, conn Execer) error {
	if isNil(conn) {
		return fmt.Errorf("%w: connection", ErrNilArgument)
	}

	statements, err := Split(r)
	if err != nil {
		return fmt.Errorf("%s: %w", resource, err)
	}

	logger := e.logger.With(slog.String("script", resource))
	for i, stmt := range statements {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("script %s interrupted before statement %d: %w", resource, i+1, err)
		}

		logger.Debug("executing statement", slog.Int("statement", i+1))
		if err := conn.Exec(ctx, stmt); err != nil {
			logger.Error("statement failed",
				slog.Int("statement", i+1),
				slog.String("error", err.Error()))
			return &ScriptError{Resource: resource, Index: i + 1, Statement: stmt, Err: err}
		}
	}

	logger.Debug("script executed", slog.Int("statements", len(statements)))
	return nil
}

// isNil also catches nil pointers stored in the interface.
func isNil(conn Execer) bool {
	if conn == nil {
		return true
	}
	v := reflect.ValueOf(conn)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// open looks the script up on disk first and in the bundled files second.
func (e *Executor) open(name string) (io.ReadCloser, error) {
	f, err := os.Open(name) //nolint:gosec // script paths are supplied by the operator
	if err == nil {
		info, serr := f.Stat()
		if serr == nil && info.Mode().IsRegular() {
			return f, nil
		}
		_ = f.Close()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to open script %s: %w", name, err)
	}

	if e.bundled != nil {
		bf, err := e.bundled.Open(strings.TrimPrefix(name, "/"))
		if err == nil {
			return bf, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
			return nil, fmt.Errorf("failed to open bundled script %s: %w", name, err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, name)
}
