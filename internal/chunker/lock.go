package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/artifactschema"
	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/engerr"
	"github.com/rajeshgoli/engram/internal/gitutil"
)

// ActiveLock is the on-disk sentinel forbidding generation of a second
// chunk while one is outstanding.
type ActiveLock struct {
	ChunkID    int    `json:"chunk_id"`
	ChunkType  string `json:"chunk_type"`
	InputPath  string `json:"input_path"`
	PromptPath string `json:"prompt_path"`
	CreatedAt  string `json:"created_at"`
}

func lockPath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "active_chunk_lock.json")
}

// readLock returns the current lock, or nil if none is held.
func readLock(cfg *config.Config) (*ActiveLock, error) {
	var lock ActiveLock
	ok, err := atomicio.ReadJSON(lockPath(cfg), &lock)
	if err != nil {
		return nil, fmt.Errorf("chunker: read active lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

// writeLock validates and atomically persists the active-chunk lock.
func writeLock(cfg *config.Config, lock ActiveLock) error {
	raw, err := lockJSON(lock)
	if err != nil {
		return err
	}
	doc, err := artifactschema.DecodeJSON(raw)
	if err != nil {
		return err
	}
	if err := artifactschema.ValidateLock(doc); err != nil {
		return err
	}
	return atomicio.WriteJSON(lockPath(cfg), lock)
}

// ClearLock removes the active-chunk lock unconditionally. Exposed for
// the `clear-active-chunk` command.
func ClearLock(cfg *config.Config) error {
	return atomicio.Remove(lockPath(cfg))
}

// checkActiveLock enforces the scheduler's refusal rule: if a lock is
// held, attempt the best-effort auto-clear heuristic (a recent commit
// whose subject names this exact chunk id), and refuse with
// ErrAlreadyActive if the lock survives.
func checkActiveLock(ctx context.Context, cfg *config.Config, repo *gitutil.Repository) error {
	lock, err := readLock(cfg)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil
	}
	if repo != nil && autoClearApplies(ctx, repo, lock.ChunkID) {
		return ClearLock(cfg)
	}
	return fmt.Errorf("chunker: chunk %d already active: %w", lock.ChunkID, engerr.ErrAlreadyActive)
}

func autoClearApplies(ctx context.Context, repo *gitutil.Repository, chunkID int) bool {
	subjects, err := repo.RecentCommitSubjects(ctx, 10)
	if err != nil {
		return false
	}
	want := fmt.Sprintf("Knowledge fold: chunk %d", chunkID)
	for _, s := range subjects {
		if strings.Contains(s, want) {
			return true
		}
	}
	return false
}

func lockJSON(lock ActiveLock) ([]byte, error) {
	return marshalIndent(lock)
}

// CorrectionViolation mirrors the fields of a linter violation that are
// worth surfacing in a correction prompt, kept free of a dependency on
// the linter package so chunker does not import it just for this.
type CorrectionViolation struct {
	Path       string
	Identifier string
	Message    string
}

// WriteCorrectionPrompt overwrites chunkID's prompt file with the
// original instructions plus the violation list, so the re-invoked fold
// agent sees exactly what failed.
func WriteCorrectionPrompt(cfg *config.Config, chunkID int64, violations []CorrectionViolation) error {
	var b strings.Builder
	b.WriteString("The previous attempt at this chunk failed validation. Fix the following and try again:\n\n")
	for _, v := range violations {
		switch {
		case v.Path != "" && v.Identifier != "":
			fmt.Fprintf(&b, "- %s (%s): %s\n", v.Path, v.Identifier, v.Message)
		case v.Identifier != "":
			fmt.Fprintf(&b, "- %s: %s\n", v.Identifier, v.Message)
		default:
			fmt.Fprintf(&b, "- %s\n", v.Message)
		}
	}
	path := promptPath(cfg, int(chunkID))
	existing, err := readExistingPrompt(path)
	if err != nil {
		return err
	}
	b.WriteString("\nOriginal instructions:\n")
	b.WriteString(existing)
	return atomicio.WriteFile(path, []byte(b.String()), 0o644)
}

func readExistingPrompt(path string) (string, error) {
	data, err := atomicio.ReadFileIfExists(path)
	if err != nil {
		return "", fmt.Errorf("chunker: read existing prompt %s: %w", path, err)
	}
	return string(data), nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
