package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchema ensures the database schema is at the current version.
func initializeSchema(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	return fmt.Errorf("unsupported schema version %d (current is %d)", currentVersion, CurrentSchemaVersion)
}

func getSchemaVersion(db *sql.DB) (int, error) {
	// The schema_version table may not exist on a fresh database.
	var exists int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			course_id        TEXT,
			phase            TEXT NOT NULL,
			revision_origin  TEXT,
			created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			last_activity_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_course ON sessions(user_id, course_id)`,

		`CREATE TABLE IF NOT EXISTS turns (
			turn_id    TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id),
			seq        INTEGER NOT NULL,
			user_msg   TEXT NOT NULL,
			agent_msg  TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS scoped_state (
			scope      TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			key        TEXT NOT NULL,
			value_json TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (scope, owner_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS memory_records (
			record_id     TEXT PRIMARY KEY,
			record_type   TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			content       TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_records(user_id)`,

		`CREATE TABLE IF NOT EXISTS courses (
			course_id    TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			level        TEXT NOT NULL DEFAULT '',
			term         TEXT NOT NULL DEFAULT '',
			instructor   TEXT NOT NULL DEFAULT '',
			details_json TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_courses_user ON courses(user_id)`,

		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id          TEXT PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			email            TEXT NOT NULL DEFAULT '',
			preferences_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
