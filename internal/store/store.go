// Package store implements engram's embedded transactional state store:
// identifier counters, the pending-item buffer, dispatch lifecycle
// records, the chunks manifest, and the singleton server-state row.
//
// The store wraps a single SQLite database (modernc.org/sqlite, pure Go)
// opened in WAL mode with exactly one connection, following the same
// Open/pragma/migration shape as the corpus's own SQLite store: single
// writer by construction, busy_timeout to ride out transient contention,
// foreign keys enforced, and a PRAGMA user_version migration ladder.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store is the durable, transactional home for all of engram's mutable
// state for one project. Every exported method is safe to call from a
// single goroutine; engram's design relies on there being exactly one
// writer (the server loop or a one-shot CLI invocation), not on the store
// serializing concurrent callers for you.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the SQLite database at path, applies pragmas and
// schema migrations, and returns a ready Store. Opening is idempotent.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	// SQLite supports exactly one writer; mirror that at the pool level so
	// concurrent callers serialize through database/sql rather than
	// hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers that need direct access.
// Prefer Store methods where available (the identifier allocator's
// combined bump+reserve goes through ReserveIDsWithFloor, not DB).
func (s *Store) DB() *sql.DB { return s.db }

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return nil
}
