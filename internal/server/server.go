// Package server implements the foreground server loop: poll sources,
// grow the buffer, invoke the dispatcher when a threshold or drift
// metric trips, and regenerate the L0 briefing whenever it is stale and
// the queue has drained. Scheduling is single-threaded and cooperative
// — the loop only ever suspends on a subprocess wait or its own sleep.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/briefing"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/dispatch"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/gitutil"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/statemirror"
	"github.com/rajeshgoli/engram/internal/store"
	"github.com/rajeshgoli/engram/internal/watch"
)

// Loop drives the server's poll/dispatch/regenerate cycle for one
// project.
type Loop struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Scanner    *drift.Scanner
	Repo       *gitutil.Repository
	Config     *config.Config
	Logger     *slog.Logger

	watcher *watch.Watcher
	mirror  statemirror.Backend
}

func New(s *store.Store, d *dispatch.Dispatcher, scanner *drift.Scanner, repo *gitutil.Repository, cfg *config.Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Store: s, Dispatcher: d, Scanner: scanner, Repo: repo, Config: cfg, Logger: logger}
}

// SetMirror attaches an optional external state mirror. A nil backend
// (the default) disables mirroring entirely.
func (l *Loop) SetMirror(m statemirror.Backend) {
	l.mirror = m
}

// Run enters the server loop in the foreground, polling every
// pollInterval until ctx is cancelled (by a signal handler in the CLI
// layer). It runs crash recovery and an initial L0 check before the
// first iteration, per spec.md §4.9 step 5.
func (l *Loop) Run(ctx context.Context) error {
	pollInterval, err := time.ParseDuration(l.Config.Dispatch.PollInterval)
	if err != nil {
		return fmt.Errorf("server: parse poll_interval %q: %w", l.Config.Dispatch.PollInterval, err)
	}

	w, err := watch.New(l.sourceRoots(), l.Logger)
	if err != nil {
		return fmt.Errorf("server: start watcher: %w", err)
	}
	l.watcher = w
	defer w.Close()

	if err := l.Dispatcher.RecoverCrashed(ctx); err != nil {
		return fmt.Errorf("server: crash recovery: %w", err)
	}
	if err := l.checkL0Drain(ctx); err != nil {
		l.Logger.Warn("server: initial l0 drain check failed", "error", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := l.iterate(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// iterate runs one poll/dispatch/regenerate pass. Exposed separately
// from Run so tests can drive single passes deterministically.
func (l *Loop) iterate(ctx context.Context) error {
	if err := l.poll(ctx); err != nil {
		return fmt.Errorf("server: poll: %w", err)
	}

	shouldDispatch, err := l.shouldDispatch(ctx)
	if err != nil {
		return fmt.Errorf("server: evaluate dispatch thresholds: %w", err)
	}
	if shouldDispatch {
		outcome, err := l.Dispatcher.Dispatch(ctx, "")
		if err != nil {
			l.Logger.Warn("server: dispatch failed", "error", err)
		} else if err := l.consumeDispatched(ctx, outcome); err != nil {
			return err
		}
		if err := l.Store.SetLastDispatchTime(ctx, time.Now()); err != nil {
			return err
		}
	}

	if err := l.checkL0Drain(ctx); err != nil {
		l.Logger.Warn("server: l0 drain check failed", "error", err)
	}
	l.mirrorState(ctx)
	return nil
}

// mirrorState best-effort copies the singleton snapshot to the external
// mirror backend, if one is configured. Mirroring never fails the loop.
func (l *Loop) mirrorState(ctx context.Context) {
	if l.mirror == nil {
		return
	}
	singleton, err := l.Store.GetSingleton(ctx)
	if err != nil {
		l.Logger.Warn("server: mirror: read singleton failed", "error", err)
		return
	}
	snap := &statemirror.Snapshot{
		ProjectRoot:      l.Config.ProjectRoot,
		LastPollCommit:   singleton.LastPollCommit,
		BufferTotalChars: singleton.BufferTotalChars,
		L0Stale:          singleton.L0Stale,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if singleton.LastDispatchTime != nil {
		snap.LastDispatchTime = singleton.LastDispatchTime.UTC().Format(time.RFC3339)
	}
	if singleton.FoldFrom != nil {
		snap.FoldFrom = *singleton.FoldFrom
	}
	if err := l.mirror.Save(snap); err != nil {
		l.Logger.Warn("server: mirror save failed", "error", err)
	}
}

// consumeDispatched removes the buffer rows corresponding to the items
// a committed fold chunk consumed from the queue, so the buffer total
// reflects only work still pending. Triage chunks consume nothing from
// the queue and have no buffer rows to remove.
func (l *Loop) consumeDispatched(ctx context.Context, outcome *dispatch.Outcome) error {
	if outcome == nil || len(outcome.Plan.ConsumedItems) == 0 {
		return nil
	}
	consumed := make(map[string]bool, len(outcome.Plan.ConsumedItems))
	for _, item := range outcome.Plan.ConsumedItems {
		consumed[item.Path+"|"+item.Date] = true
	}

	items, err := l.Store.ListBufferItems(ctx)
	if err != nil {
		return err
	}
	var ids []int64
	for _, item := range items {
		if consumed[item.SourcePath+"|"+item.LogicalDate] {
			ids = append(ids, item.ID)
		}
	}
	if err := l.Store.ConsumeItems(ctx, ids); err != nil {
		return err
	}
	total, err := l.Store.BufferTotalSize(ctx)
	if err != nil {
		return err
	}
	return l.Store.SetBufferTotalChars(ctx, total)
}

// poll drains watcher events, re-runs every configured adapter over its
// whole source (it does not limit the git scan to commits after
// last_poll_commit and does not check session-file mtimes), appends
// entries not already in the inventory to the queue file and to the
// buffer, and records HEAD as last_poll_commit. It never rewrites or
// shrinks the queue file — that stays the scheduler's job when it
// assembles a fold chunk.
func (l *Loop) poll(ctx context.Context) error {
	// Watcher events are a liveness signal for the scan below; the scan
	// re-derives content from disk/git rather than trusting the event
	// payload, so the drained events themselves are discarded.
	l.watcher.Drain()

	entries, err := adapters.ScanAll(ctx, l.Config, l.Repo)
	if err != nil {
		return err
	}

	fresh, err := queue.AppendNew(entries, queueFilePath(l.Config), inventoryFilePath(l.Config), l.Config.EngramDir())
	if err != nil {
		return err
	}

	total, err := l.Store.BufferTotalSize(ctx)
	if err != nil {
		return err
	}
	for _, e := range fresh {
		if _, err := l.Store.AppendBufferItem(ctx, store.BufferItem{
			SourcePath: e.Path, Kind: e.Kind, SizeChars: len(e.Rendered), LogicalDate: e.Date,
		}); err != nil {
			return err
		}
		total += len(e.Rendered)
	}
	if err := l.Store.SetBufferTotalChars(ctx, total); err != nil {
		return err
	}

	hash, err := l.Repo.Run(ctx, "rev-parse", "HEAD")
	if err == nil {
		if err := l.Store.SetLastPollCommit(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

// shouldDispatch evaluates spec.md §4.9 step 3: the buffer threshold or
// any drift metric.
func (l *Loop) shouldDispatch(ctx context.Context) (bool, error) {
	total, err := l.Store.BufferTotalSize(ctx)
	if err != nil {
		return false, err
	}
	if total >= l.Config.Dispatch.BufferThresholdChars {
		return true, nil
	}

	report, err := l.Scanner.Scan(ctx, l.Config, "")
	if err != nil {
		return false, err
	}
	for _, t := range drift.PriorityOrder {
		if report.Triggered(t) {
			return true, nil
		}
	}
	return false, nil
}

// checkL0Drain implements spec.md §4.9 step 4: regenerate the briefing
// only when it is stale AND the persisted queue file is absent/empty —
// the drain predicate checks the queue, not the buffer.
func (l *Loop) checkL0Drain(ctx context.Context) error {
	singleton, err := l.Store.GetSingleton(ctx)
	if err != nil {
		return err
	}
	if !singleton.L0Stale {
		return nil
	}
	items, err := queue.ReadQueueFile(queueFilePath(l.Config))
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return nil
	}
	if err := briefing.Regenerate(l.Config, time.Now()); err != nil {
		return fmt.Errorf("server: regenerate briefing: %w", err)
	}
	if err := l.Store.SetL0Stale(ctx, false); err != nil {
		return err
	}
	return l.Store.SetLastL0RegenTime(ctx, time.Now())
}

func (l *Loop) sourceRoots() []string {
	var roots []string
	if l.Config.Sources.IssuesDir != "" {
		roots = append(roots, filepath.Join(l.Config.ProjectRoot, l.Config.Sources.IssuesDir))
	}
	for _, r := range l.Config.Sources.DocRoots {
		roots = append(roots, filepath.Join(l.Config.ProjectRoot, r))
	}
	return roots
}

func queueFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "queue.jsonl")
}

func inventoryFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "inventory.jsonl")
}
