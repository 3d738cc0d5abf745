package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE upload_runs (
					id TEXT PRIMARY KEY,
					app_id INTEGER NOT NULL,
					app_name TEXT NOT NULL DEFAULT '',
					build_id INTEGER NOT NULL DEFAULT 0,
					artifact_path TEXT NOT NULL DEFAULT '',
					artifact_size INTEGER NOT NULL DEFAULT 0,
					uncompressed_size INTEGER NOT NULL DEFAULT 0,
					mode TEXT NOT NULL DEFAULT '',
					session_key TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL DEFAULT '',
					total_parts INTEGER NOT NULL DEFAULT 0,
					bytes_sent INTEGER NOT NULL DEFAULT 0,
					state TEXT NOT NULL DEFAULT 'running',
					error_kind TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME
				);

				CREATE TABLE upload_parts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					part_number INTEGER NOT NULL,
					start_byte INTEGER NOT NULL,
					end_byte INTEGER NOT NULL,
					etag TEXT NOT NULL,
					uploaded_at DATETIME NOT NULL,
					UNIQUE(run_id, part_number),
					FOREIGN KEY(run_id) REFERENCES upload_runs(id)
				);

				CREATE INDEX idx_upload_runs_start ON upload_runs(start_time);
			`,
		},
		{
			version: 2,
			sql: `
				ALTER TABLE upload_runs ADD COLUMN phase TEXT NOT NULL DEFAULT '';
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Debug("running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
