package adapters

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/gitutil"
)

// ScanAll runs every configured source adapter and concatenates their
// entries, unsorted — the queue builder sorts by date. This is what
// `build-queue` and `forward_fold` call to produce the adapter input
// the queue builder merges.
func ScanAll(ctx context.Context, cfg *config.Config, repo *gitutil.Repository) ([]Entry, error) {
	var all []Entry

	if cfg.Sources.IssuesDir != "" {
		issues, err := ScanIssues(filepath.Join(cfg.ProjectRoot, cfg.Sources.IssuesDir))
		if err != nil {
			return nil, fmt.Errorf("adapters: scan issues: %w", err)
		}
		all = append(all, issues...)
	}

	if len(cfg.Sources.DocRoots) > 0 {
		var roots []string
		for _, r := range cfg.Sources.DocRoots {
			roots = append(roots, filepath.Join(cfg.ProjectRoot, r))
		}
		docs, err := ScanDocuments(ctx, repo, roots)
		if err != nil {
			return nil, fmt.Errorf("adapters: scan documents: %w", err)
		}
		all = append(all, docs...)
	}

	if len(cfg.Sources.Sessions) > 0 {
		sessions, err := ScanSessions(cfg.Sources.Sessions)
		if err != nil {
			return nil, fmt.Errorf("adapters: scan sessions: %w", err)
		}
		all = append(all, sessions...)
	}

	return all, nil
}
