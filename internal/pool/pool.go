// Package pool wraps a pgx connection pool with bigbrotr's retry policy,
// health-check-on-acquire semantics and jsonb codec registration, per
// spec.md §4.1.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigbrotr/bigbrotr/internal/berr"
	"github.com/bigbrotr/bigbrotr/internal/config"
)

// Pool owns a pgxpool.Pool and the retry policy used for connect/acquire.
type Pool struct {
	cfg  config.PoolConfig
	pool *pgxpool.Pool
}

// New builds a Pool from cfg but does not connect; call Connect to open it.
func New(cfg config.PoolConfig) *Pool {
	return &Pool{cfg: cfg}
}

// Connect opens the underlying pgxpool, retrying transient failures per the
// configured retry policy. Connect is idempotent: calling it again on an
// already-open pool is a no-op.
func (p *Pool) Connect(ctx context.Context, password string) error {
	if p.pool != nil {
		return nil
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s application_name=%s timezone=%s",
		p.cfg.Host, p.cfg.Port, p.cfg.Database, p.cfg.User, password, p.cfg.ApplicationName, p.cfg.Timezone,
	)

	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return berr.New(berr.Configuration, "invalid pool DSN", err)
	}
	pgxCfg.MinConns = int32(p.cfg.MinSize)
	pgxCfg.MaxConns = int32(p.cfg.MaxSize)
	pgxCfg.AfterConnect = registerJSONCodec

	var opened *pgxpool.Pool
	err = p.retry(ctx, func() error {
		var connectErr error
		opened, connectErr = pgxpool.NewWithConfig(ctx, pgxCfg)
		if connectErr != nil {
			return berr.New(berr.ConnectionPool, "pool construction failed", connectErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.pool = opened
	return nil
}

// registerJSONCodec is the AfterConnect hook run on every new physical
// connection. It installs nothing: pgx's default type map already decodes
// jsonb into map/slice values, so callers never hand-marshal JSON columns.
func registerJSONCodec(ctx context.Context, conn *pgx.Conn) error {
	// pgx registers a JSON/JSONB codec automatically for map[string]any and
	// []any targets via its default type map; nothing further to wire here
	// beyond giving AfterConnect a seam for future custom OID registration.
	return nil
}

// Close releases the underlying pool. Safe to call on an unopened Pool.
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

// Conn is a scoped, released-on-Release database connection.
type Conn struct {
	release func()
	raw     *pgxpool.Conn
}

func (c *Conn) Release() { c.release() }

// Acquire checks out a connection without a health probe.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.pool == nil {
		return nil, berr.New(berr.ConnectionPool, "pool not connected", nil)
	}
	raw, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, berr.New(berr.ConnectionPool, "acquire failed", err)
	}
	return &Conn{release: raw.Release, raw: raw}, nil
}

// AcquireHealthy checks out a connection and issues SELECT 1, retrying
// (per the configured retry policy) until it finds a live connection.
func (p *Pool) AcquireHealthy(ctx context.Context) (*Conn, error) {
	var conn *Conn
	err := p.retry(ctx, func() error {
		c, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		healthCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.HealthCheckTimeoutMs)*time.Millisecond)
		defer cancel()
		if _, err := c.raw.Exec(healthCtx, "SELECT 1"); err != nil {
			c.Release()
			return berr.New(berr.ConnectionPool, "health check failed", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Fetch runs query and returns all rows scanned into T via scan.
func Fetch[T any](ctx context.Context, p *Pool, query string, args []any, scan func(pgx.Rows) (T, error)) ([]T, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.raw.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyQueryErr(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, classifyQueryErr(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryErr(err)
	}
	return out, nil
}

// Execute runs a non-query statement and returns rows affected.
func (p *Pool) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.raw.Exec(ctx, query, args...)
	if err != nil {
		return 0, classifyQueryErr(err)
	}
	return tag.RowsAffected(), nil
}

// Transaction runs fn inside a single DB transaction, committing iff fn
// returns nil and rolling back otherwise.
func (p *Pool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.raw.Begin(ctx)
	if err != nil {
		return berr.New(berr.ConnectionPool, "begin transaction failed", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return berr.New(berr.Query, "commit failed", err)
	}
	return nil
}

func classifyQueryErr(err error) error {
	if err == nil {
		return nil
	}
	return berr.New(berr.Query, "query failed", err)
}

// retry wraps op in the configured exponential-backoff retry policy,
// classifying errors as transient (retry) or permanent (fail fast) via
// berr.Retryable. Context cancellation is never retried.
func (p *Pool) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(p.cfg.Retry.InitialDelayMs) * time.Millisecond
	policy.MaxInterval = time.Duration(p.cfg.Retry.MaxDelayMs) * time.Millisecond
	if !p.cfg.Retry.ExponentialBackoff {
		policy.Multiplier = 1
	}
	policy.MaxElapsedTime = 0 // bounded by MaxAttempts below, not wall clock

	attempts := 0
	maxAttempts := p.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if attempts >= maxAttempts || !berr.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}
