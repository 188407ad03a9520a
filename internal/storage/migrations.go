package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "alert_history",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				rule_name TEXT NOT NULL,
				severity TEXT NOT NULL,
				subject TEXT NOT NULL,
				line TEXT NOT NULL,
				file_path TEXT NOT NULL,
				hostname TEXT NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				delivered INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				created_at_ns INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_alert_history_created ON alert_history(created_at_ns);
			CREATE INDEX IF NOT EXISTS idx_alert_history_rule ON alert_history(rule_name, created_at_ns);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at_ns) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
