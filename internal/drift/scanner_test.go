package drift

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/gitutil"
)

func initScannerRepo(t *testing.T) (*gitutil.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) string {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.local",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
		return string(out)
	}
	run("init")
	run("config", "user.email", "test@test.local")
	run("config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "widget.go"), []byte("package widget\n"), 0o644); err != nil {
		t.Fatalf("write widget.go: %v", err)
	}
	run("add", "widget.go")
	run("commit", "-m", "add widget")
	return gitutil.NewRepository(dir), dir
}

func baseConfig(projectRoot string) *config.Config {
	return &config.Config{
		ProjectRoot: projectRoot,
		Docs: config.DocsConfig{
			Living: []string{"docs/concepts.md", "docs/epistemic.md", "docs/workflows.md"},
		},
		Thresholds: config.ThresholdsConfig{
			OrphanTriage:             0,
			ContestedReviewDays:      1,
			ContestedReviewThreshold: 0,
			StaleUnverifiedDays:      1,
			StaleUnverifiedThreshold: 0,
			WorkflowRepetition:       0,
		},
	}
}

func TestScanDetectsOrphanedConcept(t *testing.T) {
	repo, dir := initScannerRepo(t)
	cfg := baseConfig(dir)

	docsDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}
	body := "### C001 Widget Cache\nStatus: ACTIVE\nCode: missing_file.go\n"
	if err := os.WriteFile(filepath.Join(docsDir, "concepts.md"), []byte(body), 0o644); err != nil {
		t.Fatalf("write concepts.md: %v", err)
	}

	scanner := New(repo, nil)
	report, err := scanner.Scan(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.OrphanedConcepts.Count != 1 || !report.OrphanedConcepts.Triggered {
		t.Fatalf("expected one triggered orphan, got %+v", report.OrphanedConcepts)
	}
}

func TestScanDoesNotOrphanConceptWithLiveCodePath(t *testing.T) {
	repo, dir := initScannerRepo(t)
	cfg := baseConfig(dir)

	docsDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}
	body := "### C001 Widget Cache\nStatus: ACTIVE\nCode: widget.go\n"
	if err := os.WriteFile(filepath.Join(docsDir, "concepts.md"), []byte(body), 0o644); err != nil {
		t.Fatalf("write concepts.md: %v", err)
	}

	scanner := New(repo, nil)
	report, err := scanner.Scan(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if report.OrphanedConcepts.Count != 0 {
		t.Fatalf("expected no orphans when code path exists, got %+v", report.OrphanedConcepts)
	}
}

func TestScanFallsBackToFilesystemOnUnresolvableFoldFrom(t *testing.T) {
	repo, dir := initScannerRepo(t)
	cfg := baseConfig(dir)
	docsDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatalf("mkdir docs: %v", err)
	}
	body := "### C001 Widget Cache\nStatus: ACTIVE\nCode: widget.go\n"
	if err := os.WriteFile(filepath.Join(docsDir, "concepts.md"), []byte(body), 0o644); err != nil {
		t.Fatalf("write concepts.md: %v", err)
	}

	scanner := New(repo, nil)
	report, err := scanner.Scan(context.Background(), cfg, "2000-01-01")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !report.FellBackToFS {
		t.Fatalf("expected fallback to filesystem when fold_from predates all history")
	}
	if report.OrphanedConcepts.Count != 0 {
		t.Fatalf("expected filesystem fallback to still find widget.go, got %+v", report.OrphanedConcepts)
	}
}
