// Package dbpool provides a fixed-size pool of SQLite connections and a
// versioned migration runner.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Config configures the pool.
type Config struct {
	Path           string
	PoolSize       int
	AcquireTimeout time.Duration
}

// DefaultConfig returns sane pool defaults.
func DefaultConfig(path string) Config {
	return Config{Path: path, PoolSize: 5, AcquireTimeout: 10 * time.Second}
}

// Pool is a fixed-size FIFO pool of SQLite connections, each pragma'd for
// WAL + foreign keys on creation. It sits on top of a single *sql.DB (the
// driver already pools physical connections); Pool adds the
// checked-out/available accounting and acquire-timeout semantics on top.
type Pool struct {
	db   *sql.DB
	size int

	acquireTimeout time.Duration
	available      chan struct{} // one token per available "slot"
}

// Open creates the pool, configuring the shared *sql.DB's connection
// limits and applying startup pragmas.
func Open(cfg Config) (*Pool, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-65536", // ~64MB page cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA optimize",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	available := make(chan struct{}, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		available <- struct{}{}
	}

	p := &Pool{db: db, size: cfg.PoolSize, acquireTimeout: cfg.AcquireTimeout, available: available}
	return p, nil
}

// DB returns the underlying *sql.DB for callers (like store) that need
// direct query access while still respecting the pool's slot accounting
// via Acquire/Release.
func (p *Pool) DB() *sql.DB { return p.db }

// Acquire blocks until a slot is available, the context is done, or the
// pool's configured AcquireTimeout elapses, whichever comes first. It
// returns a release func that must be called exactly once. On release
// the connection is probed with SELECT 1; a failed probe is logged and
// the slot is returned to the pool regardless, preserving the pool's
// total size.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	select {
	case <-p.available:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return func() {
		if _, err := p.db.ExecContext(context.Background(), "SELECT 1"); err != nil {
			log.Warn().Err(err).Msg("pooled connection failed health probe on release")
		}
		p.available <- struct{}{}
	}, nil
}

// InUse reports the number of currently checked-out slots, for metrics.
func (p *Pool) InUse() int {
	return p.size - len(p.available)
}

// Size returns the configured pool size.
func (p *Pool) Size() int { return p.size }

// Close closes the underlying database handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
