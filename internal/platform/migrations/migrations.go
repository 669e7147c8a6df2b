// Package migrations creates the database schema. Statements are idempotent
// and applied in order on startup, which keeps deployments to a single binary
// with no external migration tooling.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS app_users (
		id                TEXT PRIMARY KEY,
		first_name        TEXT NOT NULL DEFAULT '',
		last_name         TEXT NOT NULL DEFAULT '',
		username          TEXT NOT NULL DEFAULT '',
		balance           DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (balance >= 0),
		referral_earnings DOUBLE PRECISION NOT NULL DEFAULT 0,
		referrer_id       TEXT REFERENCES app_users (id) ON DELETE SET NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		CHECK (referrer_id IS NULL OR referrer_id <> id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_app_users_referrer ON app_users (referrer_id)`,
	`CREATE TABLE IF NOT EXISTS app_tasks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		link        TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		reward      DOUBLE PRECISION NOT NULL CHECK (reward >= 0),
		code        TEXT NOT NULL,
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_task_completions (
		user_id      TEXT NOT NULL REFERENCES app_users (id) ON DELETE CASCADE,
		task_id      TEXT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS app_withdrawals (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES app_users (id) ON DELETE CASCADE,
		amount     DOUBLE PRECISION NOT NULL CHECK (amount > 0),
		method     TEXT NOT NULL,
		details    TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_app_withdrawals_user ON app_withdrawals (user_id)`,
}

// Apply runs every schema statement against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
