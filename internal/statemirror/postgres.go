package statemirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

func init() {
	Register("postgres", newPostgresBackend)
	Register("postgresql", newPostgresBackend)
}

const (
	postgresTableName     = "engram_state_mirror"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend mirrors the singleton snapshot into a shared Postgres
// table, keyed by project root, following the same lazy-open/ensure-table
// shape as the teacher's PostgresStateBackend.
type PostgresBackend struct {
	dsn         string
	tableName   string
	openDB      sqlOpenFunc
	projectRoot string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newPostgresBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("statemirror: empty postgres dsn")
	}
	return &PostgresBackend{dsn: dsn, tableName: postgresTableName, openDB: sql.Open}, nil
}

func (b *PostgresBackend) Load() (*Snapshot, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE project_root = $1", quoteIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, b.projectKey()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statemirror: postgres load: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("statemirror: postgres unmarshal: %w", err)
	}
	return &snap, nil
}

func (b *PostgresBackend) Save(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("statemirror: postgres marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (project_root, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (project_root)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, quoteIdentifier(b.tableName))
	if _, err := b.db.ExecContext(ctx, query, b.projectKey(), string(payload)); err != nil {
		return fmt.Errorf("statemirror: postgres save: %w", err)
	}
	b.projectRoot = snap.ProjectRoot
	return nil
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) projectKey() string {
	if b.projectRoot == "" {
		return "default"
	}
	return b.projectRoot
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = fmt.Errorf("statemirror: open postgres: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				project_root TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("statemirror: create postgres table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
