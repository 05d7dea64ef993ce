package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash BYTEA NOT NULL,
		role          TEXT NOT NULL DEFAULT 'user',
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS images (
		id            TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		filename      TEXT NOT NULL,
		format        TEXT NOT NULL,
		size_bytes    BIGINT NOT NULL,
		width         INT NOT NULL DEFAULT 0,
		height        INT NOT NULL DEFAULT 0,
		is_deleted    BOOLEAN NOT NULL DEFAULT FALSE,
		uploaded_by   TEXT NOT NULL DEFAULT '',
		upload_source TEXT NOT NULL DEFAULT 'web',
		source_url    TEXT NOT NULL DEFAULT '',
		ip            TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS moderation_tasks (
		id            TEXT PRIMARY KEY,
		image_id      TEXT NOT NULL UNIQUE,
		filename      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		attempts      INT NOT NULL DEFAULT 0,
		result        JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_moderation_tasks_status ON moderation_tasks (status)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables this process depends on.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
