// Package bootstrap implements the two cold-start paths: seeding living
// and graveyard docs from the repo's current state, and seeding from a
// historical commit followed by a forward-fold up to the present.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/agentexec"
	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/engerr"
	"github.com/rajeshgoli/engram/internal/gitutil"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/store"
)

// Controller drives bootstrap(): seed-only, seed-from-date, and the
// forward-fold loop that follows a historical seed.
type Controller struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Repo       *gitutil.Repository
	Config     *config.Config
	Logger     *slog.Logger
}

func New(s *store.Store, d *dispatch.Dispatcher, repo *gitutil.Repository, cfg *config.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{Store: s, Dispatcher: d, Repo: repo, Config: cfg, Logger: logger}
}

// SeedOnly runs the seed fold agent once over the repo at its current
// state, then marks l0_stale so the server loop regenerates the
// briefing on the next drain.
func (c *Controller) SeedOnly(ctx context.Context) error {
	if err := c.runSeedAgent(ctx, c.Config.ProjectRoot); err != nil {
		return err
	}
	return c.Store.SetL0Stale(ctx, true)
}

// SeedFromDate checks out the repo at the commit nearest to fromDate in
// an ephemeral worktree, seeds living/graveyard docs there, copies them
// back to the project root, sets fold_from, and runs the forward-fold.
func (c *Controller) SeedFromDate(ctx context.Context, fromDate string) error {
	commit, err := c.Repo.CommitNearestTo(ctx, fromDate)
	if err != nil {
		return fmt.Errorf("bootstrap: %w: %v", engerr.ErrGitResolution, err)
	}

	worktreeDir, err := os.MkdirTemp("", "engram-seed-")
	if err != nil {
		return fmt.Errorf("bootstrap: create worktree dir: %w", err)
	}
	defer os.RemoveAll(worktreeDir)

	if err := c.Repo.AddWorktree(ctx, worktreeDir, commit); err != nil {
		return err
	}
	defer func() {
		if err := c.Repo.RemoveWorktree(ctx, worktreeDir); err != nil {
			c.Logger.Warn("bootstrap: failed to remove ephemeral worktree", "dir", worktreeDir, "error", err)
		}
	}()

	if err := c.runSeedAgent(ctx, worktreeDir); err != nil {
		return err
	}
	if err := c.copyDocsFromWorktree(worktreeDir); err != nil {
		return err
	}

	if err := c.Store.SetFoldFrom(ctx, &fromDate); err != nil {
		return err
	}
	if err := c.Store.SetL0Stale(ctx, true); err != nil {
		return err
	}
	return c.ForwardFold(ctx)
}

// ForwardFold builds the queue from fold_from and dispatches chunks
// until the queue is empty, with fold_from threaded through every
// dispatch so drift scanning uses the temporal reference. fold_from is
// cleared on the empty-queue early return and on normal completion;
// it is preserved if a chunk fails.
func (c *Controller) ForwardFold(ctx context.Context) error {
	singleton, err := c.Store.GetSingleton(ctx)
	if err != nil {
		return err
	}
	if singleton.FoldFrom == nil || *singleton.FoldFrom == "" {
		return fmt.Errorf("bootstrap: forward fold called with no fold_from set")
	}
	foldFrom := *singleton.FoldFrom

	entries, err := adapters.ScanAll(ctx, c.Config, c.Repo)
	if err != nil {
		return err
	}
	items, err := queue.Build(entries, foldFrom, queueFilePath(c.Config), inventoryFilePath(c.Config), c.Config.EngramDir())
	if err != nil {
		return err
	}

	if len(items) == 0 {
		return c.Store.SetFoldFrom(ctx, nil)
	}

	for {
		remaining, err := queue.ReadQueueFile(queueFilePath(c.Config))
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			break
		}
		if _, err := c.Dispatcher.Dispatch(ctx, foldFrom); err != nil {
			// fold_from is preserved: nothing here clears it on failure.
			return fmt.Errorf("bootstrap: forward fold chunk failed: %w", err)
		}
	}

	return c.Store.SetFoldFrom(ctx, nil)
}

func (c *Controller) runSeedAgent(ctx context.Context, workingDir string) error {
	promptPath := filepath.Join(c.Config.EngramDir(), "seed_prompt.txt")
	if err := atomicio.WriteFile(promptPath, []byte(seedPromptText()), 0o644); err != nil {
		return fmt.Errorf("bootstrap: write seed prompt: %w", err)
	}
	result, err := agentexec.InvokeFoldAgent(ctx, c.Config.FoldAgent.Command, c.Config.FoldAgent.Model, promptPath, workingDir)
	if err != nil {
		return fmt.Errorf("bootstrap: invoke seed agent: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("bootstrap: seed agent exited %d: %w: %s", result.ExitCode, engerr.ErrAgentInvocation, result.Stderr)
	}
	return nil
}

// copyDocsFromWorktree copies the seeded living and graveyard docs from
// the ephemeral worktree back to the project root, where the rest of
// engram operates against HEAD rather than the historical checkout.
func (c *Controller) copyDocsFromWorktree(worktreeDir string) error {
	for _, rel := range append(append([]string{}, c.Config.Docs.Living...), c.Config.Docs.Graveyard...) {
		src := filepath.Join(worktreeDir, rel)
		data, err := atomicio.ReadFileIfExists(src)
		if err != nil {
			return fmt.Errorf("bootstrap: read seeded doc %s: %w", rel, err)
		}
		if data == nil {
			continue
		}
		dst := filepath.Join(c.Config.ProjectRoot, rel)
		if err := atomicio.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("bootstrap: copy seeded doc %s: %w", rel, err)
		}
	}
	return nil
}

func seedPromptText() string {
	return "Synthesize the initial living docs (timeline, concepts, epistemic, workflows) " +
		"and graveyard docs from the repository's current state. Assign identifiers starting " +
		"at 1 in each category. Every concept entry must include a Code: field naming its " +
		"source paths.\n"
}

func queueFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "queue.jsonl")
}

func inventoryFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "inventory.jsonl")
}
