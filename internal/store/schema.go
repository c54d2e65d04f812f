package store

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

const canonicalSchema = `
CREATE TABLE IF NOT EXISTS counters (
	category TEXT PRIMARY KEY,
	next_id  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS buffer_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source_path  TEXT    NOT NULL,
	kind         TEXT    NOT NULL,
	size_chars   INTEGER NOT NULL,
	logical_date TEXT    NOT NULL,
	drift_type   TEXT
);

CREATE TABLE IF NOT EXISTS dispatches (
	id              INTEGER PRIMARY KEY,
	chunk_type      TEXT    NOT NULL,
	input_path      TEXT    NOT NULL DEFAULT '',
	prompt_path     TEXT    NOT NULL DEFAULT '',
	state           TEXT    NOT NULL,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	correlation_id  TEXT    NOT NULL DEFAULT '',
	assignment_json TEXT    NOT NULL DEFAULT '',
	created_at      TEXT    NOT NULL,
	updated_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks_manifest (
	chunk_id                INTEGER PRIMARY KEY,
	chunk_type              TEXT    NOT NULL,
	workflow_registry_hash  TEXT,
	created_at              TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS singleton (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	last_poll_commit     TEXT,
	last_dispatch_time   TEXT,
	buffer_total_chars   INTEGER NOT NULL DEFAULT 0,
	fold_from            TEXT,
	l0_stale             INTEGER NOT NULL DEFAULT 0,
	last_l0_regen_time   TEXT
);
`

// legacyKVTable is the pre-migration singleton shape: one row per key.
// engram tolerates opening a database that still has this table from an
// earlier migration tool, preserving fold_from through the rebuild.
const legacyKVTable = "engram_singleton_kv"

func (s *Store) migrate(ctx context.Context) error {
	if err := s.migrateLegacySingleton(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, canonicalSchema); err != nil {
		return fmt.Errorf("store: apply canonical schema: %w", err)
	}
	if err := s.ensureSingletonRow(ctx); err != nil {
		return err
	}
	if err := s.addColumnIfNotExists(ctx, "dispatches", "assignment_json", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("store: add assignment_json column: %w", err)
	}
	return s.runVersionedMigrations(ctx)
}

// migrateLegacySingleton detects the legacy key/value singleton shape. If
// present, it reads fold_from, drops the legacy table, and lets the
// canonical CREATE TABLE run normally; ensureSingletonRow then restores
// fold_from into the new row. This is the same shape as the reference
// store's migrateLegacyObservationsTable: inspect sqlite_master, copy
// forward inside one transaction, drop the old table.
func (s *Store) migrateLegacySingleton(ctx context.Context) error {
	exists, err := tableExists(ctx, s.db, legacyKVTable)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin legacy migration: %w", err)
	}
	defer tx.Rollback()

	var foldFrom sql.NullString
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key = 'fold_from'", legacyKVTable))
	if err := row.Scan(&foldFrom); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: read legacy fold_from: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", legacyKVTable)); err != nil {
		return fmt.Errorf("store: drop legacy singleton table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, canonicalSchema); err != nil {
		return fmt.Errorf("store: create canonical schema during legacy migration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO singleton (id, fold_from) VALUES (1, ?)`, nullableString(foldFrom)); err != nil {
		return fmt.Errorf("store: seed singleton row from legacy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit legacy migration: %w", err)
	}
	s.logger.Info("migrated legacy singleton schema", "fold_from", nullableString(foldFrom))
	return nil
}

func (s *Store) ensureSingletonRow(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO singleton (id) VALUES (1)`)
	if err != nil {
		return fmt.Errorf("store: ensure singleton row: %w", err)
	}
	return nil
}

func (s *Store) runVersionedMigrations(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}
	if version < 1 {
		version = 1
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("store: set user_version: %w", err)
	}
	return nil
}

// addColumnIfNotExists guards an ALTER TABLE ... ADD COLUMN against the
// "duplicate column name" error SQLite raises on a re-run, the same
// best-effort pattern the reference store uses for additive migrations.
func (s *Store) addColumnIfNotExists(ctx context.Context, tableName, columnName, definition string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return fmt.Errorf("store: table_info %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return fmt.Errorf("store: scan table_info %s: %w", tableName, err)
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", tableName, columnName, definition))
	return err
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: check table %s: %w", name, err)
	}
	return n > 0, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
