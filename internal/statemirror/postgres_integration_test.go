package statemirror

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

var postgresIntegrationCounter uint64

func TestPostgresBackendIntegrationRoundTrip(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	backend, err := newPostgresBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres backend: %v", err)
	}
	pg, ok := backend.(*PostgresBackend)
	if !ok {
		t.Fatalf("expected *PostgresBackend, got %T", backend)
	}
	pg.tableName = postgresIntegrationTableName("engram_state_mirror_it")
	t.Cleanup(func() {
		_ = backend.Close()
		postgresIntegrationDropTable(t, dsn, pg.tableName)
	})

	snap, err := backend.Load()
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil initial snapshot, got %+v", snap)
	}

	want := &Snapshot{
		ProjectRoot:      "/repo",
		LastPollCommit:   "deadbeef",
		BufferTotalChars: 900,
		FoldFrom:         "2026-02-01",
		L0Stale:          false,
		UpdatedAt:        "2026-08-06T00:00:00Z",
	}
	if err := backend.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := backend.Load()
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	if got == nil || got.LastPollCommit != want.LastPollCommit || got.BufferTotalChars != want.BufferTotalChars {
		t.Fatalf("round trip mismatch: want %+v got %+v", want, got)
	}

	want.BufferTotalChars = 950
	if err := backend.Save(want); err != nil {
		t.Fatalf("upsert save: %v", err)
	}
	got, err = backend.Load()
	if err != nil {
		t.Fatalf("load after upsert: %v", err)
	}
	if got == nil || got.BufferTotalChars != 950 {
		t.Fatalf("expected upsert to overwrite buffer total, got %+v", got)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ENGRAM_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set ENGRAM_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d", prefix, n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	backend, err := newPostgresBackend(dsn)
	if err != nil {
		t.Logf("drop table: new backend: %v", err)
		return
	}
	pg := backend.(*PostgresBackend)
	pg.tableName = tableName
	if err := pg.ensureReady(); err != nil {
		t.Logf("drop table: ensure ready: %v", err)
		return
	}
	if _, err := pg.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))); err != nil {
		t.Logf("drop table %s: %v", tableName, err)
	}
	_ = pg.Close()
}
