package cli

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.local",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func initTestProject(t *testing.T) (root string, opts *RootOptions) {
	t.Helper()
	root = t.TempDir()
	runGit(t, root, "init")
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	runGit(t, root, "add", "-A")
	runGit(t, root, "commit", "-m", "initial")
	return root, &RootOptions{ConfigPath: filepath.Join(root, ".engram", "config.yaml")}
}

func TestInitCreatesConfigStoreAndDocs(t *testing.T) {
	root, opts := initTestProject(t)

	cmd := newInitCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	if !strings.Contains(buf.String(), "initialized engram project") {
		t.Fatalf("expected confirmation output, got %q", buf.String())
	}
	for _, rel := range []string{"docs/concepts.md", "docs/epistemic.md", "docs/workflows.md", "docs/timeline.md",
		"docs/graveyard_concepts.md", "docs/graveyard_epistemic.md"} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Fatalf("expected %s to exist: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, ".engram", "state.db")); err != nil {
		t.Fatalf("expected state store to exist: %v", err)
	}
}

func TestInitRefusesWhenConfigAlreadyExists(t *testing.T) {
	_, opts := initTestProject(t)

	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("first init: %v", err)
	}

	err := newInitCommand(opts).Execute()
	if err == nil {
		t.Fatalf("expected second init to refuse")
	}
	if GetExitCode(err) != ExitCommandError {
		t.Fatalf("expected ExitCommandError, got %d", GetExitCode(err))
	}
}

func TestStatusReportsInitialState(t *testing.T) {
	_, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cmd := newStatusCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "fold_from: (unset)") {
		t.Fatalf("expected unset fold_from, got %q", out)
	}
	if !strings.Contains(out, "l0_stale: false") {
		t.Fatalf("expected l0_stale false, got %q", out)
	}
}

func TestClearActiveChunkSucceedsWhenNoLockHeld(t *testing.T) {
	_, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cmd := newClearActiveChunkCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("clear-active-chunk: %v", err)
	}
}

func TestLintPassesOnFreshlyInitializedDocs(t *testing.T) {
	_, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cmd := newLintCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !strings.Contains(buf.String(), "no lint violations") {
		t.Fatalf("expected clean lint, got %q", buf.String())
	}
}

func TestLintFlagsDuplicateConceptDefinition(t *testing.T) {
	root, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	dup := "### C1 Foo\nStatus: ACTIVE\nCode: a.go\n\n### C1 Foo again\nStatus: ACTIVE\nCode: b.go\n"
	if err := os.WriteFile(filepath.Join(root, "docs", "concepts.md"), []byte(dup), 0o644); err != nil {
		t.Fatalf("write concepts: %v", err)
	}

	cmd := newLintCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected lint to fail on duplicate C1")
	}
	if GetExitCode(err) != ExitFailure {
		t.Fatalf("expected ExitFailure, got %d", GetExitCode(err))
	}
	if !strings.Contains(buf.String(), "C1: defined 2 times") {
		t.Fatalf("expected duplicate violation reported, got %q", buf.String())
	}
}

func TestBuildQueueWritesEntriesFromDocRoots(t *testing.T) {
	root, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cmd := newBuildQueueCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("build-queue: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".engram", "queue.jsonl")); err != nil {
		t.Fatalf("expected queue file to exist: %v", err)
	}
}

func TestBuildQueueRejectsInvalidStartDate(t *testing.T) {
	_, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	cmd := newBuildQueueCommand(opts)
	cmd.SetArgs([]string{"--start-date", "2026-01-05T00:00:00Z"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected invalid start-date to be rejected")
	}
	if GetExitCode(err) != ExitCommandError {
		t.Fatalf("expected ExitCommandError, got %d", GetExitCode(err))
	}
}

func TestNextChunkRefusesWhileLockHeld(t *testing.T) {
	root, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := newBuildQueueCommand(opts).Execute(); err != nil {
		t.Fatalf("build-queue: %v", err)
	}

	lockPath := filepath.Join(root, ".engram", "active_chunk_lock.json")
	if err := os.WriteFile(lockPath, []byte(`{"chunk_id":1,"chunk_type":"fold","input_path":"x","prompt_path":"y","created_at":"2026-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	cmd := newNextChunkCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected next-chunk to refuse while lock held")
	}
	if !strings.Contains(err.Error(), "clear-active-chunk") {
		t.Fatalf("expected guidance naming clear-active-chunk, got %v", err)
	}
}

func TestNextChunkTwiceInARowNamesClearActiveChunk(t *testing.T) {
	root, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := newBuildQueueCommand(opts).Execute(); err != nil {
		t.Fatalf("build-queue: %v", err)
	}

	first := newNextChunkCommand(opts)
	first.SetOut(&bytes.Buffer{})
	if err := first.Execute(); err != nil {
		t.Fatalf("first next-chunk: %v", err)
	}

	inputContent, err := os.ReadFile(filepath.Join(root, ".engram", "chunks", "chunk_001_input.md"))
	if err != nil {
		t.Fatalf("read chunk input: %v", err)
	}
	if !strings.Contains(string(inputContent), "Pre-assigned identifiers") {
		t.Fatalf("expected identifier header embedded in chunk input, got: %s", inputContent)
	}
	if _, err := os.Stat(filepath.Join(root, ".engram", "chunks_manifest.yaml")); err != nil {
		t.Fatalf("expected chunks_manifest.yaml to be written: %v", err)
	}

	second := newNextChunkCommand(opts)
	buf := &bytes.Buffer{}
	second.SetOut(buf)
	err = second.Execute()
	if err == nil {
		t.Fatal("expected second next-chunk to refuse while the first dispatch is still non-terminal")
	}
	if !strings.Contains(err.Error(), "clear-active-chunk") {
		t.Fatalf("expected guidance naming clear-active-chunk, got %v", err)
	}
	if GetExitCode(err) != ExitFailure {
		t.Fatalf("expected ExitFailure so the caller knows a retry is possible, got %d", GetExitCode(err))
	}
}

func TestClearActiveChunkRecoversStuckDispatchRecord(t *testing.T) {
	root, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := newBuildQueueCommand(opts).Execute(); err != nil {
		t.Fatalf("build-queue: %v", err)
	}
	if err := newNextChunkCommand(opts).Execute(); err != nil {
		t.Fatalf("next-chunk: %v", err)
	}

	// Simulate a crash: the lock file is gone but the dispatch row is
	// still non-terminal, exactly what BeginDispatch's at-most-one-in-
	// flight check guards against.
	if err := os.Remove(filepath.Join(root, ".engram", "active_chunk_lock.json")); err != nil {
		t.Fatalf("remove lock: %v", err)
	}

	if err := newClearActiveChunkCommand(opts).Execute(); err != nil {
		t.Fatalf("clear-active-chunk: %v", err)
	}

	if err := newNextChunkCommand(opts).Execute(); err != nil {
		t.Fatalf("expected next-chunk to succeed after clear-active-chunk recovered the stuck record: %v", err)
	}
}

func TestRootCommandHasEveryCLISurfaceCommand(t *testing.T) {
	root := NewRootCommand()
	want := []string{"init", "build-queue", "next-chunk", "clear-active-chunk", "lint", "run", "status", "seed", "fold", "migrate"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected root command to register %q", name)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	_, opts := initTestProject(t)
	if err := newInitCommand(opts).Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 2; i++ {
		cmd := newMigrateCommand(opts)
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
}
