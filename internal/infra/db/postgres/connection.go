package postgres

import (
	"context"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/config"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPgxPool returns a live pool for cfg.URL.
func NewPgxPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.ConnectConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PoolStats reports total, idle and acquired connections.
func PoolStats(pool *pgxpool.Pool) (total, idle, inUse int64) {
	s := pool.Stat()
	return int64(s.TotalConns()), int64(s.IdleConns()), int64(s.AcquiredConns())
}
