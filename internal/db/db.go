// Package db provides PostgreSQL-backed repositories for newsletters,
// subscribers and delivery tracking. All repositories accept a DBTX interface
// that is satisfied by both *pgxpool.Pool and pgx.Tx.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bulletin/internal/resilience"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectAttempts int
	RetryInterval   time.Duration
}

// ErrConnect is returned when no connection could be established.
var ErrConnect = errors.New("failed to open database connection")

// Connect opens a pool and verifies it with a ping, retrying with exponential
// backoff so a cold database does not fail the first invocation.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	policy := resilience.RetryPolicy{
		MaxRetries: max(cfg.ConnectAttempts, 1),
		BaseDelay:  cfg.RetryInterval,
	}
	pool, err := resilience.Retry(ctx, policy, func(ctx context.Context, _ int) (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, errors.Join(ErrConnect, err)
	}
	return pool, nil
}

// nilIfEmpty returns nil for empty strings so nullable columns store NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
