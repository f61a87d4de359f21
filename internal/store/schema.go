package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the version a freshly migrated database reports.
const CurrentSchemaVersion = 3

// migration is one additive schema step. Steps never drop or rewrite data.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS assessments (
                id TEXT PRIMARY KEY,
                appointment_id TEXT,
                request_id TEXT,
                status TEXT NOT NULL,
                last_modified INTEGER NOT NULL,
                last_synced INTEGER,
                data TEXT NOT NULL DEFAULT '{}'
            )`,
			`CREATE INDEX IF NOT EXISTS idx_assessments_appointment ON assessments(appointment_id)`,
			`CREATE INDEX IF NOT EXISTS idx_assessments_request ON assessments(request_id)`,
			`CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status)`,
			`CREATE INDEX IF NOT EXISTS idx_assessments_modified ON assessments(last_modified)`,

			`CREATE TABLE IF NOT EXISTS photos (
                id TEXT PRIMARY KEY,
                assessment_id TEXT NOT NULL,
                category TEXT NOT NULL,
                label TEXT,
                blob BLOB NOT NULL,
                thumbnail BLOB,
                status TEXT NOT NULL,
                remote_path TEXT,
                remote_url TEXT,
                created_at INTEGER NOT NULL,
                uploaded_at INTEGER,
                size INTEGER NOT NULL DEFAULT 0
            )`,
			`CREATE INDEX IF NOT EXISTS idx_photos_assessment ON photos(assessment_id)`,
			`CREATE INDEX IF NOT EXISTS idx_photos_category ON photos(category)`,
			`CREATE INDEX IF NOT EXISTS idx_photos_status ON photos(status)`,
			`CREATE INDEX IF NOT EXISTS idx_photos_created ON photos(created_at)`,

			`CREATE TABLE IF NOT EXISTS sync_queue (
                id TEXT PRIMARY KEY,
                type TEXT NOT NULL,
                entity_id TEXT NOT NULL,
                action TEXT NOT NULL,
                payload TEXT,
                status TEXT NOT NULL,
                attempts INTEGER NOT NULL DEFAULT 0,
                max_attempts INTEGER NOT NULL DEFAULT 3,
                last_attempt INTEGER,
                last_error TEXT,
                created_at INTEGER NOT NULL,
                priority INTEGER NOT NULL DEFAULT 5
            )`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_type ON sync_queue(type)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_priority ON sync_queue(priority)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue(created_at)`,

			`CREATE TABLE IF NOT EXISTS appointments (
                id TEXT PRIMARY KEY,
                assessment_id TEXT,
                request_id TEXT,
                scheduled_date INTEGER,
                status TEXT,
                data TEXT
            )`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_assessment ON appointments(assessment_id)`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_request ON appointments(request_id)`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_scheduled ON appointments(scheduled_date)`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`ALTER TABLE sync_queue ADD COLUMN discriminator TEXT NOT NULL DEFAULT ''`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_dedup ON sync_queue(entity_id, type, discriminator, status)`,
			`ALTER TABLE photos ADD COLUMN content_type TEXT NOT NULL DEFAULT 'image/jpeg'`,
		},
	},
	{
		version: 3,
		statements: []string{
			`ALTER TABLE appointments ADD COLUMN cached_at INTEGER NOT NULL DEFAULT 0`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_cached ON appointments(cached_at)`,
		},
	},
}

// migrate applies every migration newer than the recorded version in a
// single transaction.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_info (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_info: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_info").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_info (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		applied++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	if applied > 0 {
		s.logger.WithFields(map[string]interface{}{
			"from":    current,
			"to":      CurrentSchemaVersion,
			"applied": applied,
		}).Info("Migrated local store schema")
	}

	return nil
}
