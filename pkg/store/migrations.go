// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migration is one additive schema step, applied idempotently and gated
// by schema_migrations.
type migration struct {
	Version int
	UpSQL   string
}

// migrations materializes the store schema: profiles (maintained by the
// profile editor, created empty here so the additive-migration story
// stays uniform), migration_history, checkpoints, logs. Versions 2 and 3
// are later schema-evolution columns, added as idempotent ALTER TABLE
// steps so re-running a migration list that already applied them is a
// non-error.
var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS migration_history (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL CHECK(status IN ('running','completed','failed','cancelled')),
	total_rows INTEGER NOT NULL DEFAULT 0,
	processed_rows INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS migration_history_profile_idx ON migration_history(profile_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	history_id TEXT NOT NULL,
	partition_name TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed')),
	rows_processed INTEGER NOT NULL DEFAULT 0,
	last_key TEXT,
	last_date TEXT,
	error_message TEXT,
	UNIQUE(history_id, partition_name),
	FOREIGN KEY(history_id) REFERENCES migration_history(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS checkpoints_history_idx ON checkpoints(history_id);

CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	history_id TEXT,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	logged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS logs_history_idx ON logs(history_id);
`,
	},
	{
		// the dedicated resume-key columns are last_key/last_date from v1;
		// copy_method and bytes_transferred arrived later.
		Version: 2,
		UpSQL: `
ALTER TABLE checkpoints ADD COLUMN copy_method TEXT NOT NULL DEFAULT 'COPY' CHECK(copy_method IN ('COPY','INSERT'));
ALTER TABLE checkpoints ADD COLUMN bytes_transferred INTEGER NOT NULL DEFAULT 0;
`,
	},
	{
		Version: 3,
		UpSQL: `
ALTER TABLE migration_history ADD COLUMN source_connection_status TEXT;
ALTER TABLE migration_history ADD COLUMN target_connection_status TEXT;
ALTER TABLE migration_history ADD COLUMN connection_check_time TEXT;
`,
	},
}

// applyMigrations runs every migration not yet recorded in
// schema_migrations, each in its own transaction.
// An ALTER TABLE ADD COLUMN for a column that is already
// present (e.g. a store reopened after a partial apply) is treated as a
// non-error.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("store: check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin tx for migration %d: %w", m.Version, err)
		}
		if err := execStatements(ctx, tx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("store: apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("store: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// execStatements runs each statement of a migration separately so an
// ALTER TABLE ADD COLUMN hitting a column that already exists (a store
// reopened after a partial apply) can be skipped without aborting the
// statements after it.
func execStatements(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}
