package dbpool

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	Up      string // raw DDL/DML executed inside a transaction
}

// Migrator applies Migrations in version order, recording each in a
// schema_migrations ledger.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator builds a migrator over db with migrations sorted by the
// caller; callers should pass them in ascending version order.
func NewMigrator(db *sql.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) ensureLedger() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations ledger: %w", err)
	}
	return nil
}

func (m *Migrator) highestApplied() (int, error) {
	var version sql.NullInt64
	err := m.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading applied migration version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// Migrate applies every migration with a version greater than the highest
// already-applied version, each inside its own transaction, logging
// applied_at. Running it twice is a no-op.
func (m *Migrator) Migrate() error {
	if err := m.ensureLedger(); err != nil {
		return err
	}

	applied, err := m.highestApplied()
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if mig.Version <= applied {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", mig.Version, mig.Name, err)
		}

		appliedAt := time.Now().UTC()
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			mig.Version, mig.Name, appliedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d in ledger: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", mig.Version, err)
		}

		log.Info().Int("version", mig.Version).Str("name", mig.Name).Time("applied_at", appliedAt).Msg("applied migration")
	}

	return nil
}

// CoreMigrations is the ordered list of migrations that bring a fresh
// database up to the schema the Database Facade expects: recordings,
// batch_processing, and their supporting indexes.
func CoreMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_recordings",
			Up: `
				CREATE TABLE IF NOT EXISTS recordings (
					id                       INTEGER PRIMARY KEY AUTOINCREMENT,
					recording_id             INTEGER NOT NULL UNIQUE,
					filename                 TEXT,
					patient_name             TEXT NOT NULL,
					audio_path               TEXT,
					transcript               TEXT,
					soap_note                TEXT,
					referral                 TEXT,
					letter                   TEXT,
					metadata                 TEXT,
					processing_status        TEXT NOT NULL DEFAULT 'pending',
					error_message            TEXT,
					retry_count              INTEGER NOT NULL DEFAULT 0,
					batch_id                 TEXT,
					processing_started_at    DATETIME,
					processing_completed_at  DATETIME,
					created_at               DATETIME NOT NULL,
					updated_at               DATETIME NOT NULL
				)
			`,
		},
		{
			Version: 2,
			Name:    "create_recordings_indexes",
			Up: `
				CREATE INDEX IF NOT EXISTS idx_recordings_status ON recordings(processing_status);
				CREATE INDEX IF NOT EXISTS idx_recordings_batch ON recordings(batch_id);
			`,
		},
		{
			Version: 3,
			Name:    "create_batch_processing",
			Up: `
				CREATE TABLE IF NOT EXISTS batch_processing (
					batch_id        TEXT PRIMARY KEY,
					total_count     INTEGER NOT NULL DEFAULT 0,
					completed_count INTEGER NOT NULL DEFAULT 0,
					failed_count    INTEGER NOT NULL DEFAULT 0,
					created_at      DATETIME NOT NULL,
					started_at      DATETIME,
					completed_at    DATETIME,
					options         TEXT,
					status          TEXT NOT NULL DEFAULT 'pending'
				)
			`,
		},
	}
}
