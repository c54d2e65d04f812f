package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// initTestRepo creates a working git repository in a temp directory with
// one commit containing file, and returns the repository.
func initTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.local",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@test.local")
	run("config", "user.name", "Test")

	path := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(path, []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	run("add", "doc.md")
	run("commit", "-m", "initial commit")

	return NewRepository(dir), dir
}

func TestRunCapturesStdout(t *testing.T) {
	repo, _ := initTestRepo(t)
	out, err := repo.Run(context.Background(), "log", "-1", "--format=%s")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "initial commit" {
		t.Fatalf("expected commit subject, got %q", out)
	}
}

func TestResolveCommitBeforeFindsCommit(t *testing.T) {
	repo, _ := initTestRepo(t)
	today := time.Now().UTC().Format("2006-01-02")
	sha, err := repo.ResolveCommitBefore(context.Background(), today)
	if err != nil {
		t.Fatalf("resolve commit before: %v", err)
	}
	if sha == "" {
		t.Fatalf("expected a resolved sha")
	}
}

func TestResolveCommitBeforeNoHistoryErrors(t *testing.T) {
	repo, _ := initTestRepo(t)
	_, err := repo.ResolveCommitBefore(context.Background(), "2000-01-01")
	if err == nil {
		t.Fatalf("expected error resolving a date before any commit")
	}
}

func TestPathExistsAtCommit(t *testing.T) {
	repo, _ := initTestRepo(t)
	sha, err := repo.Run(context.Background(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	exists, err := repo.PathExistsAtCommit(context.Background(), sha, "doc.md")
	if err != nil {
		t.Fatalf("path exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected doc.md to exist at HEAD")
	}

	missing, err := repo.PathExistsAtCommit(context.Background(), sha, "nope.md")
	if err != nil {
		t.Fatalf("path exists for missing file: %v", err)
	}
	if missing {
		t.Fatalf("expected nope.md to not exist at HEAD")
	}
}

func TestFirstAndLastCommitDateForSingleCommitFileMatch(t *testing.T) {
	repo, _ := initTestRepo(t)
	first, err := repo.FirstCommitDate(context.Background(), "doc.md")
	if err != nil {
		t.Fatalf("first commit date: %v", err)
	}
	last, err := repo.LastCommitDate(context.Background(), "doc.md")
	if err != nil {
		t.Fatalf("last commit date: %v", err)
	}
	if first != last {
		t.Fatalf("expected identical dates for a single-commit file, got %s vs %s", first, last)
	}
}

func TestRecentCommitSubjects(t *testing.T) {
	repo, _ := initTestRepo(t)
	subjects, err := repo.RecentCommitSubjects(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent commit subjects: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "initial commit" {
		t.Fatalf("unexpected subjects: %+v", subjects)
	}
}

func TestAddAndRemoveWorktree(t *testing.T) {
	repo, dir := initTestRepo(t)
	worktreeDir := filepath.Join(filepath.Dir(dir), "wt")
	sha, err := repo.Run(context.Background(), "rev-parse", "HEAD")
	if err != nil {
		t.Fatalf("rev-parse: %v", err)
	}
	if err := repo.AddWorktree(context.Background(), worktreeDir, sha); err != nil {
		t.Fatalf("add worktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(worktreeDir, "doc.md")); err != nil {
		t.Fatalf("expected doc.md in worktree: %v", err)
	}
	if err := repo.RemoveWorktree(context.Background(), worktreeDir); err != nil {
		t.Fatalf("remove worktree: %v", err)
	}
}
