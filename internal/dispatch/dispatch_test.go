package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/chunker"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/gitutil"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/store"
)

func testSetup(t *testing.T) (*Dispatcher, *config.Config, *store.Store) {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{filepath.Join(root, "docs"), filepath.Join(root, ".engram", "chunks")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	for _, stem := range []string{"concepts", "epistemic", "workflows"} {
		if err := os.WriteFile(filepath.Join(root, "docs", stem+".md"), []byte("# "+stem+"\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", stem, err)
		}
	}

	cfg := &config.Config{
		ProjectRoot: root,
		Docs: config.DocsConfig{
			Living: []string{"docs/concepts.md", "docs/epistemic.md", "docs/workflows.md"},
		},
		Budget: config.BudgetConfig{
			ContextLimitChars:        10_000,
			InstructionsOverhead:     100,
			MaxChunkChars:            5_000,
			MaxNewEntriesPerCategory: 40,
		},
		Thresholds: config.ThresholdsConfig{
			OrphanTriage: 100, ContestedReviewDays: 14, ContestedReviewThreshold: 100,
			StaleUnverifiedDays: 30, StaleUnverifiedThreshold: 100, WorkflowRepetition: 100,
		},
		Dispatch: config.DispatchConfig{WorkflowCooldownChunks: 10},
	}

	s, err := store.Open(context.Background(), filepath.Join(root, ".engram", "state.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	repo := gitutil.NewRepository(root)
	scanner := drift.New(repo, nil)
	alloc := ids.New(s)
	sched := chunker.New(s, scanner, alloc, repo, cfg)

	entries := []adapters.Entry{{Date: "2026-01-01", Rendered: "entry one", Path: "a", Kind: "document_initial"}}
	if _, err := queue.Build(entries, "", filepath.Join(cfg.EngramDir(), "queue.jsonl"), filepath.Join(cfg.EngramDir(), "inventory.jsonl"), cfg.EngramDir()); err != nil {
		t.Fatalf("build queue: %v", err)
	}

	return New(s, sched, cfg, nil), cfg, s
}

func TestDispatchCommitsOnFirstPass(t *testing.T) {
	d, cfg, _ := testSetup(t)
	cfg.FoldAgent.Command = []string{"sh", "-c",
		`printf "### C1 Foo\nStatus: ACTIVE\nCode: x.go\n" >> docs/concepts.md`}

	outcome, err := d.Dispatch(context.Background(), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Dispatch.State != store.DispatchCommitted {
		t.Fatalf("expected committed, got %s", outcome.Dispatch.State)
	}
	if outcome.Dispatch.RetryCount != 0 {
		t.Fatalf("expected zero retries, got %d", outcome.Dispatch.RetryCount)
	}
}

func TestDispatchRetriesOnLintFailureThenCommits(t *testing.T) {
	d, cfg, _ := testSetup(t)
	attemptFile := filepath.Join(cfg.ProjectRoot, ".attempt")
	cfg.FoldAgent.Command = []string{"sh", "-c", `
		n=$(cat "$ATTEMPT_FILE" 2>/dev/null || echo 0)
		n=$((n+1))
		echo "$n" > "$ATTEMPT_FILE"
		if [ "$n" -eq 1 ]; then
			printf "### C1 Foo\nStatus: ACTIVE\n" >> docs/concepts.md
		else
			printf "### C1 Foo\nStatus: ACTIVE\nCode: x.go\n" > docs/concepts.md
		fi
	`}
	os.Setenv("ATTEMPT_FILE", attemptFile)
	t.Cleanup(func() { os.Unsetenv("ATTEMPT_FILE") })

	outcome, err := d.Dispatch(context.Background(), "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Dispatch.State != store.DispatchCommitted {
		t.Fatalf("expected committed after retry, got %s", outcome.Dispatch.State)
	}
	if outcome.Dispatch.RetryCount != 1 {
		t.Fatalf("expected exactly one retry, got %d", outcome.Dispatch.RetryCount)
	}
}

func TestDispatchFailsAfterExhaustingRetries(t *testing.T) {
	d, cfg, _ := testSetup(t)
	cfg.FoldAgent.Command = []string{"sh", "-c", `printf "### C1 Foo\nStatus: ACTIVE\n" >> docs/concepts.md`}

	_, err := d.Dispatch(context.Background(), "")
	if err == nil {
		t.Fatal("expected dispatch to fail after exhausting retries")
	}
}

func TestDispatchRefusesWhileLockHeld(t *testing.T) {
	d, cfg, s := testSetup(t)
	if err := chunker.ClearLock(cfg); err != nil {
		t.Fatalf("clear lock: %v", err)
	}
	lockPath := filepath.Join(cfg.EngramDir(), "active_chunk_lock.json")
	if err := os.WriteFile(lockPath, []byte(`{"chunk_id":1,"chunk_type":"fold","input_path":"x","prompt_path":"y","created_at":"2026-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if _, err := d.Dispatch(context.Background(), ""); err == nil {
		t.Fatal("expected refusal while lock held")
	}

	// The building record BeginDispatch reserved before BuildChunk hit the
	// lock check must not be left stuck non-terminal; otherwise the very
	// next Dispatch/BeginDispatch call would fail for the wrong reason.
	pending, err := s.ListNonTerminal(context.Background())
	if err != nil {
		t.Fatalf("list non-terminal: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no non-terminal dispatch records left behind, got %d", len(pending))
	}
}

func TestRecoverCrashedDiscardsBuildingRecord(t *testing.T) {
	d, _, s := testSetup(t)
	rec, err := s.BeginDispatch(context.Background(), "fold", "corr-1")
	if err != nil {
		t.Fatalf("begin dispatch: %v", err)
	}

	if err := d.RecoverCrashed(context.Background()); err != nil {
		t.Fatalf("RecoverCrashed: %v", err)
	}

	got, err := s.GetDispatch(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	if got.State != store.DispatchFailed {
		t.Fatalf("expected discarded building record to end failed, got %s", got.State)
	}
}

func TestRecoverCrashedCommitsValidatedRecord(t *testing.T) {
	d, cfg, s := testSetup(t)
	rec, err := s.BeginDispatch(context.Background(), "fold", "corr-2")
	if err != nil {
		t.Fatalf("begin dispatch: %v", err)
	}
	if err := s.SetState(context.Background(), rec.ID, store.DispatchValidated); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := chunker.ClearLock(cfg); err != nil {
		t.Fatalf("clear lock: %v", err)
	}

	if err := d.RecoverCrashed(context.Background()); err != nil {
		t.Fatalf("RecoverCrashed: %v", err)
	}

	got, err := s.GetDispatch(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	if got.State != store.DispatchCommitted {
		t.Fatalf("expected committed, got %s", got.State)
	}
	singleton, err := s.GetSingleton(context.Background())
	if err != nil {
		t.Fatalf("get singleton: %v", err)
	}
	if !singleton.L0Stale {
		t.Fatal("expected l0_stale set true during validated recovery")
	}
}
