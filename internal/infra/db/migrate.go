package db

import (
	"context"
	"database/sql"
	"fmt"
)

// MigrateUp creates the schema. dim is the embedding dimension of the
// entries.embedding column and must match the engine's configured dimension.
func MigrateUp(ctx context.Context, db *sql.DB, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("migrate: embedding dimension must be positive, got %d", dim)
	}

	// pgvector may already be installed, or the role may lack the privilege;
	// the entries table creation below fails loudly if it is truly missing.
	_, _ = db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)

	// Feed ids are allocated by the scheduler so discovered feeds keep the
	// id they were scheduled under.
	tables := []string{`
CREATE TABLE IF NOT EXISTS feeds (
    id                 BIGINT PRIMARY KEY,
    url                TEXT NOT NULL UNIQUE,
    name               TEXT NOT NULL DEFAULT '',
    tags               JSONB NOT NULL DEFAULT '[]',
    state              TEXT NOT NULL DEFAULT 'active'
                       CHECK (state IN ('active', 'ephemeral', 'pruned')),
    estimated_interval BIGINT NOT NULL DEFAULT 0,
    quality            DOUBLE PRECISION NOT NULL DEFAULT 0,
    consistency        DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_fetched_at    TIMESTAMPTZ,
    discovered_from    BIGINT
)`, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS entries (
    id           BIGSERIAL PRIMARY KEY,
    feed_id      BIGINT NOT NULL REFERENCES feeds(id),
    url          TEXT NOT NULL UNIQUE,
    title        TEXT NOT NULL DEFAULT '',
    content      TEXT NOT NULL DEFAULT '',
    tags         JSONB NOT NULL DEFAULT '[]',
    embedding    vector(%d),
    state        TEXT NOT NULL DEFAULT 'none',
    published_at TIMESTAMPTZ,
    fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, dim), `
CREATE TABLE IF NOT EXISTS interactions (
    id       BIGSERIAL PRIMARY KEY,
    entry_id BIGINT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    kind     TEXT NOT NULL CHECK (kind IN ('like', 'dislike')),
    at       TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS feed_transitions (
    id         BIGSERIAL PRIMARY KEY,
    feed_id    BIGINT NOT NULL REFERENCES feeds(id),
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    epoch      BIGINT NOT NULL,
    score      DOUBLE PRECISION NOT NULL,
    threshold  DOUBLE PRECISION NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    at         TIMESTAMPTZ NOT NULL
)`}
	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_entries_feed_id ON entries(feed_id)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_at ON interactions(at)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_transitions_feed_id ON feed_transitions(feed_id, epoch)`,
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// MigrateDown drops the schema. All data is lost.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS feed_transitions`,
		`DROP TABLE IF EXISTS interactions`,
		`DROP TABLE IF EXISTS entries`,
		`DROP TABLE IF EXISTS feeds`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
