package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolExhausted is returned when no connection can be created or
	// released back within the acquire timeout
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by Acquire after CloseAll
	ErrPoolClosed = errors.New("connection pool closed")
)

// Conn is a live database session handed out by the pool. *sql.Conn
// satisfies it.
type Conn interface {
	PingContext(ctx context.Context) error
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	Close() error
}

// Dialer opens a new session
type Dialer func(ctx context.Context) (Conn, error)

// SQLDialer opens dedicated sessions from a *sql.DB
func SQLDialer(db *sql.DB) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// PoolOptions sizes the connection pool
type PoolOptions struct {
	PoolSize       int
	MaxOverflow    int
	AcquireTimeout time.Duration
	ProbeTimeout   time.Duration
}

// DefaultPoolOptions returns the standard pool sizing
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		PoolSize:       3,
		MaxOverflow:    7,
		AcquireTimeout: 30 * time.Second,
		ProbeTimeout:   5 * time.Second,
	}
}

// PoolStats is a point-in-time view of the pool counters
type PoolStats struct {
	Created  int
	Idle     int
	InFlight int
}

// ConnectionPool is a bounded pool of validated sessions. At most
// PoolSize+MaxOverflow sessions exist at any time.
type ConnectionPool struct {
	dial     Dialer
	opts     PoolOptions
	idle     chan Conn
	freed    chan struct{}
	mu       sync.Mutex
	created  int
	closed   bool
	inFlight atomic.Int64
	Logger   *logrus.Logger
}

// NewConnectionPool creates a pool and eagerly opens PoolSize sessions.
// Pre-population stops at the first failure; missing sessions are opened
// lazily by Acquire.
func NewConnectionPool(ctx context.Context, dial Dialer, opts PoolOptions, logger *logrus.Logger) *ConnectionPool {
	defaults := DefaultPoolOptions()
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaults.PoolSize
	}
	if opts.MaxOverflow < 0 {
		opts.MaxOverflow = 0
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaults.AcquireTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaults.ProbeTimeout
	}

	p := &ConnectionPool{
		dial:   dial,
		opts:   opts,
		idle:   make(chan Conn, opts.PoolSize+opts.MaxOverflow),
		freed:  make(chan struct{}, 1),
		Logger: logger,
	}

	for i := 0; i < opts.PoolSize; i++ {
		conn, err := p.create(ctx)
		if err != nil {
			logger.Warningf("Failed to pre-populate connection pool (%d/%d ready): %v", i, opts.PoolSize, err)
			break
		}
		p.idle <- conn
	}

	logger.Debugf("Connection pool ready: size=%d overflow=%d created=%d",
		opts.PoolSize, opts.MaxOverflow, p.Stats().Created)
	return p
}

// Capacity is the hard ceiling on open sessions
func (p *ConnectionPool) Capacity() int {
	return p.opts.PoolSize + p.opts.MaxOverflow
}

// Acquire checks out a validated session. When the pool is at capacity it
// waits up to AcquireTimeout for a session to be released.
func (p *ConnectionPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}
	p.inFlight.Add(1)
	return conn, nil
}

func (p *ConnectionPool) checkout(ctx context.Context) (Conn, error) {
	select {
	case conn := <-p.idle:
		return p.ready(ctx, conn)
	default:
	}

	conn, err := p.create(ctx)
	if err == nil || !errors.Is(err, ErrPoolExhausted) {
		return conn, err
	}

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	for {
		select {
		case conn := <-p.idle:
			return p.ready(ctx, conn)
		case <-p.freed:
			conn, err := p.create(ctx)
			if err == nil || !errors.Is(err, ErrPoolExhausted) {
				return conn, err
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: no connection released within %s", ErrPoolExhausted, p.opts.AcquireTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ready probes a dequeued session and replaces it when it is no longer valid
func (p *ConnectionPool) ready(ctx context.Context, conn Conn) (Conn, error) {
	if p.valid(ctx, conn) {
		return conn, nil
	}
	p.Logger.Debug("Discarding invalid pooled connection")
	p.discard(conn)
	return p.create(ctx)
}

// Release returns a session to the pool. Invalid sessions, sessions that do
// not fit and sessions released after CloseAll are closed.
func (p *ConnectionPool) Release(conn Conn) {
	if conn == nil {
		return
	}
	p.inFlight.Add(-1)

	if !p.valid(context.Background(), conn) {
		p.discard(conn)
		return
	}

	p.mu.Lock()
	queued := false
	if !p.closed {
		select {
		case p.idle <- conn:
			queued = true
		default:
		}
	}
	p.mu.Unlock()

	if !queued {
		p.discard(conn)
	}
}

// CloseAll drains and closes every idle session. Sessions still checked out
// are closed when they are released.
func (p *ConnectionPool) CloseAll() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var result *multierror.Error
	for {
		select {
		case conn := <-p.idle:
			if err := conn.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			p.unreserve()
		default:
			return result.ErrorOrNil()
		}
	}
}

// Stats returns the current counters
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Created:  p.created,
		Idle:     len(p.idle),
		InFlight: int(p.inFlight.Load()),
	}
}

func (p *ConnectionPool) create(ctx context.Context) (Conn, error) {
	if err := p.reserve(); err != nil {
		return nil, err
	}
	conn, err := p.dial(ctx)
	if err != nil {
		p.unreserve()
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return conn, nil
}

func (p *ConnectionPool) reserve() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.created >= p.Capacity() {
		return ErrPoolExhausted
	}
	p.created++
	return nil
}

func (p *ConnectionPool) unreserve() {
	p.mu.Lock()
	p.created--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *ConnectionPool) discard(conn Conn) {
	if err := conn.Close(); err != nil {
		p.Logger.Debugf("Error closing discarded connection: %v", err)
	}
	p.unreserve()
}

func (p *ConnectionPool) valid(ctx context.Context, conn Conn) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()
	return conn.PingContext(probeCtx) == nil
}
