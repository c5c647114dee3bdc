package stores

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// Handle is one bounded connection pool against one target.
//
// A Handle is created by OpenHandle and destroyed by Close. Once closed it
// hands out no more connections; in-flight work finishes first because
// sql.DB.Close waits for it.
type Handle struct {
	target Target
	config ConnectionConfig
	bounds PoolBounds
	db     *sql.DB
	alive  atomic.Bool

	closeOnce sync.Once
	closeErr  error
	logger    *telemetry.Logger
}

// OpenHandle opens a pool and performs a SELECT 1 round trip before
// returning. Any failure is a connection error and leaves nothing open.
func OpenHandle(ctx context.Context, target Target, cfg ConnectionConfig, bounds PoolBounds, dial Dialer, logger *telemetry.Logger) (*Handle, error) {
	if dial == nil {
		dial = DefaultDialer
	}
	if bounds.MaxSize <= 0 {
		bounds = DefaultPoolBounds()
	}

	db, err := dial(cfg)
	if err != nil {
		return nil, &StoreError{Kind: KindConnection, Op: "open", Target: target, Err: err}
	}

	// Configure connection pool
	db.SetMaxOpenConns(bounds.MaxSize)
	idle := bounds.MinSize
	if idle <= 0 || idle > bounds.MaxSize {
		idle = bounds.MaxSize
	}
	db.SetMaxIdleConns(idle)
	if bounds.Recycle > 0 {
		db.SetConnMaxLifetime(bounds.Recycle)
	}

	h := &Handle{
		target: target,
		config: cfg,
		bounds: bounds,
		db:     db,
		logger: logger,
	}

	if err := h.probe(ctx); err != nil {
		_ = db.Close()
		return nil, &StoreError{Kind: KindConnection, Op: "probe", Target: target, Err: err}
	}
	h.alive.Store(true)

	if logger != nil {
		logger.WithField("target", string(target)).
			WithField("max_size", bounds.MaxSize).
			Infof("Connected to %s database %s", target, cfg)
	}
	return h, nil
}

// probe runs the liveness round trip on a pooled connection.
func (h *Handle) probe(ctx context.Context) error {
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}
	if one != 1 {
		return fmt.Errorf("liveness probe returned %d", one)
	}
	return nil
}

// Ping re-runs the liveness probe.
func (h *Handle) Ping(ctx context.Context) error {
	if !h.Alive() {
		return ErrHandleClosed
	}
	return h.probe(ctx)
}

// WithConn acquires a pooled connection, runs fn, and returns the
// connection to the pool on every exit path.
func (h *Handle) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	if !h.Alive() {
		return ErrHandleClosed
	}
	conn, err := h.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()
	return fn(conn)
}

// Close drains the pool. Safe to call more than once.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.alive.Store(false)
		h.closeErr = h.db.Close()
		if h.logger != nil {
			h.logger.WithField("target", string(h.target)).Info("Database pool closed")
		}
	})
	return h.closeErr
}

// Target reports which pool this is.
func (h *Handle) Target() Target { return h.target }

// Config returns the parameters the pool was opened with.
func (h *Handle) Config() ConnectionConfig { return h.config }

// Alive is false once Close has started.
func (h *Handle) Alive() bool { return h != nil && h.alive.Load() }

// Stats exposes database/sql pool statistics.
func (h *Handle) Stats() sql.DBStats { return h.db.Stats() }
