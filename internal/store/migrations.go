package store

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS unit_timers (
	unit_id TEXT PRIMARY KEY CHECK(length(unit_id) > 0),
	label TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL CHECK(duration_ms > 0),
	end_time TEXT,
	paused INTEGER NOT NULL DEFAULT 0 CHECK(paused IN (0,1)),
	paused_remaining_ms INTEGER NOT NULL DEFAULT 0 CHECK(paused_remaining_ms >= 0),
	incident_id INTEGER,
	started_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	CHECK((paused = 1 AND end_time IS NULL) OR (paused = 0 AND end_time IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS flashing_incidents (
	incident_id INTEGER PRIMARY KEY CHECK(incident_id > 0),
	unit_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS unit_timers_end_time
ON unit_timers(end_time)
WHERE paused = 0;
`,
		DownSQL: `
DROP INDEX IF EXISTS unit_timers_end_time;
DROP TABLE IF EXISTS flashing_incidents;
DROP TABLE IF EXISTS unit_timers;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
