package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapcrawl/internal/telemetry"
	"github.com/leapstack-labs/leapcrawl/pkg/adapter"
	"github.com/leapstack-labs/leapcrawl/pkg/credentials"
)

// opener opens one raw connection.
type opener func(ctx context.Context) (adapter.Adapter, error)

// dialer opens raw connections with the credentials read at open. forget
// drops the credentials; later opens fail with ErrClosed.
type dialer struct {
	logger *slog.Logger

	mu     sync.Mutex
	cfg    adapter.Config
	closed bool
}

func (d *dialer) open(ctx context.Context) (adapter.Adapter, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	cfg := d.cfg
	d.mu.Unlock()
	return adapter.Connect(ctx, cfg, d.logger)
}

func (d *dialer) forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cfg.Username = ""
	d.cfg.Password = ""
}

func (d *dialer) hasCredentials() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Username != "" || d.cfg.Password != ""
}

// rawConn is one raw connection owned by a Pool.
type rawConn struct {
	raw adapter.Adapter

	// gen is odd while the connection is checked out and even while idle.
	gen atomic.Uint64
}

func (c *rawConn) markAcquired() uint64 {
	return c.gen.Add(1)
}

func (c *rawConn) tryRelease(token uint64) bool {
	return c.gen.CompareAndSwap(token, token+1)
}

// Pool is a connection source. It is safe for concurrent use.
type Pool struct {
	url       string
	cfg       Config
	open      opener
	dial      *dialer
	logger    *slog.Logger
	collector telemetry.Collector

	// mu protects idle, all, inUse and closed.
	mu     sync.Mutex
	idle   []*rawConn // LIFO stack
	all    map[*rawConn]struct{}
	inUse  map[string]*PooledConn
	closed bool

	// sem holds one token per connection that may be checked out.
	sem       chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	waitCount    atomic.Int64
	waitDuration atomic.Int64
	timeouts     atomic.Int64
}

// Open creates a source for identity and opens its first raw connection.
// creds is read exactly once; a nil provider means no authentication.
func Open(ctx context.Context, identity string, creds credentials.Provider, cfg Config) (*Pool, error) {
	acfg, err := adapter.ParseURL(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if creds == nil {
		creds = credentials.Embedded()
	}
	acfg.Username, acfg.Password, err = creds.Credentials()
	if err != nil {
		return nil, fmt.Errorf("%w: reading credentials: %w", ErrConnection, err)
	}
	acfg.Params = cfg.Params

	cfg = cfg.withDefaults()
	d := &dialer{logger: cfg.Logger, cfg: acfg}
	p := newPool(acfg.URL, cfg, d.open)
	p.dial = d

	raw, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c := &rawConn{raw: raw}
	p.all[c] = struct{}{}
	p.idle = append(p.idle, c)

	p.logger.Debug("connection source opened", slog.Int("max_size", cfg.MaxSize))
	return p, nil
}

// OpenSingle creates a source holding at most one raw connection.
func OpenSingle(ctx context.Context, identity string, creds credentials.Provider, cfg Config) (*Pool, error) {
	cfg.MaxSize = 1
	return Open(ctx, identity, creds, cfg)
}

// FromAdapter wraps an already connected raw connection in a source of size
// one. The source takes ownership of raw. If raw is later lost, borrows fail
// with ErrConnection because the source cannot open a replacement.
func FromAdapter(ctx context.Context, raw adapter.Adapter, cfg Config) (*Pool, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil adapter", ErrConnection)
	}
	if err := raw.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	cfg.MaxSize = 1
	cfg = cfg.withDefaults()
	p := newPool(raw.URL(), cfg, func(context.Context) (adapter.Adapter, error) {
		return nil, errors.New("external connection is gone and cannot be reopened")
	})
	c := &rawConn{raw: raw}
	p.all[c] = struct{}{}
	p.idle = append(p.idle, c)
	return p, nil
}

func newPool(url string, cfg Config, open opener) *Pool {
	p := &Pool{
		url:       url,
		cfg:       cfg,
		open:      open,
		logger:    cfg.Logger.With(slog.String("url", url)),
		collector: cfg.Collector,
		idle:      make([]*rawConn, 0, cfg.MaxSize),
		all:       make(map[*rawConn]struct{}, cfg.MaxSize),
		inUse:     make(map[string]*PooledConn, cfg.MaxSize),
		sem:       make(chan struct{}, cfg.MaxSize),
		closeCh:   make(chan struct{}),
	}
	for range cfg.MaxSize {
		p.sem <- struct{}{}
	}
	return p
}

// URL returns the connection identity of the source.
func (p *Pool) URL() string {
	return p.url
}

// Borrow checks out a connection, reusing the most recently released idle
// one or opening a new one while below MaxSize. It blocks while every
// connection is checked out, until a release, Close, ctx cancellation or
// BorrowTimeout.
func (p *Pool) Borrow(ctx context.Context) (*PooledConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrClosed
	}

	start := time.Now()
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}
	wait := time.Since(start)

	c, err := p.checkout(ctx)
	if err != nil {
		p.returnSlot()
		return nil, err
	}

	h := &PooledConn{
		id:    uuid.NewString(),
		pool:  p,
		conn:  c,
		token: c.markAcquired(),
	}

	p.mu.Lock()
	if p.closed {
		delete(p.all, c)
		p.mu.Unlock()
		c.gen.Add(1)
		p.discard(c)
		p.returnSlot()
		return nil, ErrClosed
	}
	p.inUse[h.id] = h
	inUse := len(p.inUse)
	p.mu.Unlock()

	p.collector.ObserveBorrow(p.url, wait)
	p.collector.SetInUse(p.url, inUse)
	p.logger.Debug("connection borrowed", slog.String("handle", h.id), slog.Duration("wait", wait))
	return h, nil
}

// acquireSlot takes a semaphore token, waiting if none is free.
func (p *Pool) acquireSlot(ctx context.Context) error {
	select {
	case <-p.sem:
		return nil
	default:
	}

	p.waitCount.Add(1)
	start := time.Now()
	defer func() { p.waitDuration.Add(int64(time.Since(start))) }()

	var timeout <-chan time.Time
	if p.cfg.BorrowTimeout > 0 {
		timer := time.NewTimer(p.cfg.BorrowTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-p.sem:
		return nil
	case <-p.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		p.timeouts.Add(1)
		p.collector.IncBorrowTimeout(p.url)
		return fmt.Errorf("%w after %s", ErrTimeout, p.cfg.BorrowTimeout)
	}
}

// checkout pops an idle connection or opens a new one. The caller holds a
// semaphore token.
func (p *Pool) checkout(ctx context.Context) (*rawConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			break
		}
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if c.raw.IsClosed() {
			delete(p.all, c)
			p.mu.Unlock()
			p.logger.Warn("dropping idle connection closed outside the pool")
			continue
		}
		p.mu.Unlock()
		return c, nil
	}

	raw, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	c := &rawConn{raw: raw}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.discard(c)
		return nil, ErrClosed
	}
	p.all[c] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("opened raw connection")
	return c, nil
}

// Release returns the handle's raw connection to the source. It fails with
// ErrInvalidState for nil or foreign handles, repeated releases, and raw
// connections closed out of band; in the last case the connection is dropped
// and a replacement is opened by a later Borrow.
func (p *Pool) Release(h *PooledConn) error {
	return p.release(h, false)
}

func (p *Pool) release(h *PooledConn, terminated bool) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrInvalidState)
	}
	if h.pool != p {
		return fmt.Errorf("%w: handle %s belongs to another source", ErrInvalidState, h.id)
	}
	if !h.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: handle %s already released", ErrInvalidState, h.id)
	}
	c := h.conn
	if !c.tryRelease(h.token) {
		return fmt.Errorf("%w: stale handle %s", ErrInvalidState, h.id)
	}

	dead := c.raw.IsClosed()

	p.mu.Lock()
	delete(p.inUse, h.id)
	inUse := len(p.inUse)
	closed := p.closed
	switch {
	case dead || closed:
		delete(p.all, c)
	default:
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	if closed && !dead {
		p.discard(c)
	}
	p.returnSlot()
	p.collector.SetInUse(p.url, inUse)
	p.logger.Debug("connection released", slog.String("handle", h.id))

	if dead && !terminated {
		p.logger.Warn("released connection was closed outside the pool", slog.String("handle", h.id))
		return fmt.Errorf("%w: raw connection of handle %s was closed outside the pool", ErrInvalidState, h.id)
	}
	return nil
}

// Close closes the source. New borrows fail with ErrClosed and blocked ones
// wake up before any connection is terminated. Idle connections are closed.
// Checked out connections are terminated when ForceClose is set and reported
// as a *LeakError otherwise. The credentials read at open are dropped. Close
// is idempotent and may be retried after the leaked handles were released or
// terminated.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.closeOnce.Do(func() { close(p.closeCh) })
	if p.dial != nil {
		p.dial.forget()
	}
	idle := p.idle
	p.idle = nil
	for _, c := range idle {
		delete(p.all, c)
	}
	outstanding := make([]*PooledConn, 0, len(p.inUse))
	for _, h := range p.inUse {
		outstanding = append(outstanding, h)
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.raw.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	sort.Slice(outstanding, func(i, j int) bool { return outstanding[i].id < outstanding[j].id })

	var leaked []string
	for _, h := range outstanding {
		if h.conn.raw.IsClosed() {
			continue
		}
		if p.cfg.ForceClose {
			p.logger.Warn("terminating connection still checked out at close", slog.String("handle", h.id))
			if err := h.Terminate(); err != nil && !errors.Is(err, ErrClosed) {
				errs = append(errs, err)
			}
			continue
		}
		leaked = append(leaked, h.id)
	}

	if len(leaked) > 0 {
		p.collector.IncLeak(p.url, len(leaked))
		p.logger.Warn("connection source closed with leaked connections", slog.Any("handles", leaked))
		errs = append(errs, &LeakError{URL: p.url, Handles: leaked})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.logger.Debug("connection source closed")
	return nil
}

// WithConn borrows a connection, runs fn and releases the connection.
func (p *Pool) WithConn(ctx context.Context, fn func(*PooledConn) error) (err error) {
	h, err := p.Borrow(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(h)
}

// Stats describes the current state of a source.
type Stats struct {
	MaxSize      int
	Open         int
	Idle         int
	InUse        int
	WaitCount    int64
	WaitDuration time.Duration
	Timeouts     int64
	Closed       bool
}

// Stats returns a snapshot of the source.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxSize:      p.cfg.MaxSize,
		Open:         len(p.all),
		Idle:         len(p.idle),
		InUse:        len(p.inUse),
		WaitCount:    p.waitCount.Load(),
		WaitDuration: time.Duration(p.waitDuration.Load()),
		Timeouts:     p.timeouts.Load(),
		Closed:       p.closed,
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// discard terminates a raw connection that is no longer tracked.
func (p *Pool) discard(c *rawConn) {
	if err := c.raw.Close(); err != nil {
		p.logger.Warn("failed to close raw connection", slog.String("error", err.Error()))
	}
}

// returnSlot gives a semaphore token back. The send never blocks: tokens
// only come back after being taken.
func (p *Pool) returnSlot() {
	select {
	case p.sem <- struct{}{}:
	default:
		p.logger.Error("semaphore full on release; more releases than borrows")
	}
}
