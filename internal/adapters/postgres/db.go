package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the tables the engine needs when Postgres persistence is
// configured. Sessions live only within their TTL window; the sweeper
// deletes expired rows. Exemplars cache catalog-example embeddings so the
// in-memory index warm-loads without re-embedding on every start.
const schema = `
CREATE TABLE IF NOT EXISTS lucia_sessions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	state         TEXT NOT NULL,
	data          JSONB NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lucia_sessions_user ON lucia_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_lucia_sessions_expires ON lucia_sessions(expires_at);

CREATE TABLE IF NOT EXISTS lucia_exemplars (
	id           TEXT PRIMARY KEY,
	intent_id    TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding    vector,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lucia_exemplars_intent ON lucia_exemplars(intent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_lucia_exemplars_hash ON lucia_exemplars(content_hash);
`

// NewPool connects to Postgres and verifies the connection. The timezone
// is pinned to UTC so TIMESTAMP comparisons behave the same everywhere.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the engine's tables when they do not exist yet.
// Requires the pgvector extension to be installed already.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
