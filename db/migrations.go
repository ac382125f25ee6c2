package db

import (
	"database/sql"
	"fmt"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations list all database migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create plans and specs tables",
		SQL: `
			-- Create plans table (one row per plan, keyed by caller-supplied UUID)
			CREATE TABLE IF NOT EXISTS plans (
				plan_id TEXT PRIMARY KEY,
				overall_status TEXT NOT NULL CHECK (overall_status IN ('running', 'finished', 'failed')),
				total_specs INTEGER NOT NULL,
				completed_specs INTEGER NOT NULL DEFAULT 0,
				current_spec_index INTEGER,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				last_event_at TIMESTAMP NOT NULL,
				raw_request JSON
			);

			-- Create specs table (one row per spec, contiguous 0-based index per plan)
			CREATE TABLE IF NOT EXISTS specs (
				plan_id TEXT NOT NULL,
				spec_index INTEGER NOT NULL,
				purpose TEXT NOT NULL,
				vision TEXT NOT NULL,
				must JSON NOT NULL,
				dont JSON NOT NULL,
				nice JSON NOT NULL,
				assumptions JSON NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('blocked', 'running', 'finished', 'failed')),
				current_stage TEXT,
				execution_attempts INTEGER NOT NULL DEFAULT 0,
				last_execution_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				history JSON NOT NULL,
				PRIMARY KEY (plan_id, spec_index)
			);

			-- Create migrations table
			CREATE TABLE IF NOT EXISTS migrations (
				version INTEGER PRIMARY KEY,
				description TEXT NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

// Migrate runs all pending migrations
func (db *DB) Migrate() error {
	// Ensure migrations table exists for version lookup
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return serr.Wrap(err, "failed to create migrations table")
	}

	var currentVersion int
	err = db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return serr.Wrap(err, "failed to get current migration version")
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		logger.Info("Applying migration",
			"version", fmt.Sprintf("%d", migration.Version), "description", migration.Description)

		if _, err := db.conn.Exec(migration.SQL); err != nil {
			return serr.Wrap(err, fmt.Sprintf("failed to apply migration %d", migration.Version))
		}

		_, err = db.conn.Exec(
			"INSERT INTO migrations (version, description) VALUES (?, ?)",
			migration.Version, migration.Description,
		)
		if err != nil {
			return serr.Wrap(err, "failed to record migration")
		}
	}

	return nil
}
