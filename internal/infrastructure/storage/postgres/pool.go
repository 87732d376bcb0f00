// Package postgres holds the Postgres side of the engine: the pool, the
// context-carried transaction manager, and the outbox, audit and idempotency
// stores built on them.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tireshop/pkg/logger"
)

// PoolConfig configures the shared pool.
//
// LockTimeout and StatementTimeout become session settings on every
// connection. Zero leaves the server default.
type PoolConfig struct {
	DSN               string
	AppName           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	LockTimeout       time.Duration
	StatementTimeout  time.Duration
}

// DefaultPoolConfig returns the settings used when only a DSN is known.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:               dsn,
		AppName:           "tireshop",
		MaxConns:          25,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		LockTimeout:       5 * time.Second,
	}
}

// Pool is the process-wide pgx pool.
type Pool struct {
	*pgxpool.Pool
}

// Close is safe on a zero Pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// sessionSettings lists the set_config calls run on every new connection, in order.
func (cfg PoolConfig) sessionSettings() [][2]string {
	var out [][2]string
	if cfg.AppName != "" {
		out = append(out, [2]string{"application_name", cfg.AppName})
	}
	if cfg.LockTimeout > 0 {
		out = append(out, [2]string{"lock_timeout", strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)})
	}
	if cfg.StatementTimeout > 0 {
		out = append(out, [2]string{"statement_timeout", strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)})
	}
	return out
}

// NewPool connects and pings. It fails fast when the database is unreachable.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	settings := cfg.sessionSettings()
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, kv := range settings {
			if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", kv[0], kv[1]); err != nil {
				return fmt.Errorf("set %s: %w", kv[0], err)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info(ctx, "database pool ready",
		"max_conns", pc.MaxConns,
		"lock_timeout", cfg.LockTimeout,
	)
	return &Pool{Pool: pool}, nil
}

// PoolStats is what /health/info reports about the pool.
type PoolStats struct {
	TotalConns    int32 `json:"totalConns"`
	AcquiredConns int32 `json:"acquiredConns"`
	IdleConns     int32 `json:"idleConns"`
	MaxConns      int32 `json:"maxConns"`
}

func (p *Pool) Stats() PoolStats {
	s := p.Pool.Stat()
	return PoolStats{
		TotalConns:    s.TotalConns(),
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
		MaxConns:      s.MaxConns(),
	}
}
