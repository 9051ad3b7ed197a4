package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS live_streams (
	id             TEXT PRIMARY KEY,
	stream_type    TEXT NOT NULL,
	status         TEXT NOT NULL,
	broadcaster_id TEXT NOT NULL DEFAULT '',
	store_id       TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMPTZ,
	ended_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS live_streams_status_idx ON live_streams (status);
CREATE TABLE IF NOT EXISTS user_verifications (
	user_id           TEXT PRIMARY KEY,
	seller_tier       INTEGER NOT NULL DEFAULT 0,
	identity_verified BOOLEAN NOT NULL DEFAULT FALSE,
	checked_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Open creates a pool for dsn and ensures the tables exist.
func Open(ctx context.Context, dsn string, maxConns int32, logger *zap.SugaredLogger) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Postgres", "max_conns", cfg.MaxConns)
	}
	return pool, nil
}
