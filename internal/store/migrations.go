package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the latest schema version. Bump it when adding a migration.
const CurrentSchemaVersion = 1

type migration struct {
	version int
	up      string
}

var migrations = []migration{
	{
		version: 1,
		up: `
CREATE TABLE IF NOT EXISTS screenshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	captured_at INTEGER NOT NULL,
	file_path TEXT NOT NULL UNIQUE,
	file_size_bytes INTEGER NOT NULL DEFAULT 0,
	app_name TEXT NOT NULL DEFAULT '',
	window_title TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_screenshots_captured_at ON screenshots(captured_at);

CREATE TABLE IF NOT EXISTS window_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	to_app TEXT NOT NULL,
	to_title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_window_events_timestamp ON window_events(timestamp);

CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing','analyzed','failed')),
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	CHECK(start_ts <= end_ts)
);

CREATE TABLE IF NOT EXISTS batch_screenshots (
	batch_id INTEGER NOT NULL,
	screenshot_id INTEGER NOT NULL UNIQUE,
	PRIMARY KEY(batch_id, screenshot_id),
	FOREIGN KEY(batch_id) REFERENCES batches(id) ON DELETE CASCADE,
	FOREIGN KEY(screenshot_id) REFERENCES screenshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id INTEGER NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	text TEXT NOT NULL,
	model_label TEXT NOT NULL DEFAULT '',
	context_type TEXT NOT NULL DEFAULT '',
	entities_json TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	FOREIGN KEY(batch_id) REFERENCES batches(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_observations_batch ON observations(batch_id, start_ts);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`,
	},
}

// migrate applies every migration newer than the database's user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set user_version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}
