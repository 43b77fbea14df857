package store

var migrations = []string{
	`CREATE TABLE kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE sync_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL DEFAULT '',
		stage      TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_sync_events_created ON sync_events(created_at)`,
	`CREATE INDEX idx_sync_events_run ON sync_events(run_id)`,
}
