// Package drift computes the four drift metrics the scheduler uses to
// pick a triage chunk type: orphaned concepts, contested claims, stale
// unverified claims, and workflow repetitions, each evaluated against a
// configurable threshold and (optionally) a historical commit instead
// of the live filesystem.
package drift

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/gitutil"
)

// Type identifies one of the four drift-triggered triage chunk kinds,
// in the scheduler's fixed priority order.
type Type string

const (
	TypeOrphanedConcepts  Type = "concept_triage"
	TypeContestedClaims   Type = "contested_review"
	TypeStaleUnverified   Type = "stale_unverified"
	TypeWorkflowRepeat    Type = "workflow_synthesis"
)

// PriorityOrder is the fixed evaluation order for drift types.
var PriorityOrder = []Type{TypeOrphanedConcepts, TypeContestedClaims, TypeStaleUnverified, TypeWorkflowRepeat}

// Report holds every metric's raw count and whether it exceeds its
// configured threshold.
type Report struct {
	OrphanedConcepts   Metric
	ContestedClaims    Metric
	StaleUnverified    Metric
	WorkflowRepetition Metric

	TemporalCommit string // resolved ref commit, empty if fold_from unset or resolution failed
	TemporalDate   string // echoes fold_from when TemporalCommit is set
	FellBackToFS   bool   // true if temporal resolution was requested but failed

	OrphanedConceptIDs []int
	ContestedClaimIDs  []int
	StaleUnverifiedIDs []int
	CurrentWorkflowIDs []int
}

// Metric is one drift measurement and its trigger state.
type Metric struct {
	Count     int
	Triggered bool
}

// Triggered reports whether t's metric exceeded its threshold.
func (r Report) Triggered(t Type) bool {
	switch t {
	case TypeOrphanedConcepts:
		return r.OrphanedConcepts.Triggered
	case TypeContestedClaims:
		return r.ContestedClaims.Triggered
	case TypeStaleUnverified:
		return r.StaleUnverified.Triggered
	case TypeWorkflowRepeat:
		return r.WorkflowRepetition.Triggered
	}
	return false
}

// Scanner computes a Report for a project.
type Scanner struct {
	repo   *gitutil.Repository
	logger *slog.Logger
}

func New(repo *gitutil.Repository, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{repo: repo, logger: logger}
}

// Scan reads the configured living docs and computes all four metrics.
// If foldFrom is non-empty, orphan existence checks resolve against the
// nearest commit at or before that date; on resolution failure the scan
// falls back to the filesystem and sets Report.FellBackToFS.
func (s *Scanner) Scan(ctx context.Context, cfg *config.Config, foldFrom string) (Report, error) {
	var report Report

	concepts, err := ParseConcepts(livingDocPath(cfg, "concepts"))
	if err != nil {
		return report, err
	}
	claims, err := ParseClaims(livingDocPath(cfg, "epistemic"))
	if err != nil {
		return report, err
	}
	workflows, err := ParseWorkflows(livingDocPath(cfg, "workflows"))
	if err != nil {
		return report, err
	}

	var refCommit string
	if foldFrom != "" {
		commit, err := s.repo.ResolveCommitBefore(ctx, foldFrom)
		if err != nil {
			s.logger.Warn("drift: fold_from commit resolution failed, falling back to filesystem",
				"fold_from", foldFrom, "error", err)
			report.FellBackToFS = true
		} else {
			refCommit = commit
			report.TemporalCommit = commit
			report.TemporalDate = foldFrom
		}
	}

	report.OrphanedConceptIDs = s.orphanedConceptIDs(ctx, concepts, refCommit)
	report.OrphanedConcepts = Metric{Count: len(report.OrphanedConceptIDs), Triggered: len(report.OrphanedConceptIDs) > cfg.Thresholds.OrphanTriage}

	evidenceTimes := newEvidenceTimeCache(ctx, s.repo)

	report.ContestedClaimIDs = agedClaimIDs(claims, "contested", cfg.Thresholds.ContestedReviewDays, evidenceTimes)
	report.ContestedClaims = Metric{Count: len(report.ContestedClaimIDs), Triggered: len(report.ContestedClaimIDs) > cfg.Thresholds.ContestedReviewThreshold}

	report.StaleUnverifiedIDs = agedClaimIDs(claims, "unverified", cfg.Thresholds.StaleUnverifiedDays, evidenceTimes)
	report.StaleUnverified = Metric{Count: len(report.StaleUnverifiedIDs), Triggered: len(report.StaleUnverifiedIDs) > cfg.Thresholds.StaleUnverifiedThreshold}

	for _, w := range workflows {
		if w.Status == "CURRENT" {
			report.CurrentWorkflowIDs = append(report.CurrentWorkflowIDs, w.ID)
		}
	}
	report.WorkflowRepetition = Metric{Count: len(report.CurrentWorkflowIDs), Triggered: len(report.CurrentWorkflowIDs) > cfg.Thresholds.WorkflowRepetition}

	return report, nil
}

func livingDocPath(cfg *config.Config, stem string) string {
	for _, p := range cfg.Docs.Living {
		if filepath.Base(p) == stem+".md" {
			return filepath.Join(cfg.ProjectRoot, p)
		}
	}
	return filepath.Join(cfg.ProjectRoot, "docs", stem+".md")
}

func (s *Scanner) orphanedConceptIDs(ctx context.Context, concepts []Concept, refCommit string) []int {
	var orphaned []int
	for _, c := range concepts {
		if c.Status != "ACTIVE" {
			continue
		}
		if s.everyCodePathMissing(ctx, c.CodePaths, refCommit) {
			orphaned = append(orphaned, c.ID)
		}
	}
	return orphaned
}

func (s *Scanner) everyCodePathMissing(ctx context.Context, paths []string, refCommit string) bool {
	if len(paths) == 0 {
		return true
	}
	for _, p := range paths {
		if s.pathExists(ctx, p, refCommit) {
			return false
		}
	}
	return true
}

func (s *Scanner) pathExists(ctx context.Context, path, refCommit string) bool {
	if refCommit != "" {
		exists, err := s.repo.PathExistsAtCommit(ctx, refCommit, path)
		if err == nil {
			return exists
		}
		s.logger.Warn("drift: ls-tree failed, falling back to filesystem", "path", path, "error", err)
	}
	full := path
	if s.repo != nil && !filepath.IsAbs(path) {
		full = filepath.Join(s.repo.Dir(), path)
	}
	_, err := os.Stat(full)
	return err == nil
}

// evidenceTimeCache memoizes sha -> commit time resolution for the
// lifetime of one scan run, per spec.md §4.5's caching requirement.
type evidenceTimeCache struct {
	ctx   context.Context
	repo  *gitutil.Repository
	cache map[string]*time.Time
}

func newEvidenceTimeCache(ctx context.Context, repo *gitutil.Repository) *evidenceTimeCache {
	return &evidenceTimeCache{ctx: ctx, repo: repo, cache: map[string]*time.Time{}}
}

func (c *evidenceTimeCache) resolve(sha string) *time.Time {
	if t, ok := c.cache[sha]; ok {
		return t
	}
	t, err := c.repo.CommitTime(c.ctx, sha)
	if err != nil {
		c.cache[sha] = nil
		return nil
	}
	c.cache[sha] = &t
	return &t
}

// agedClaimIDs returns the ids of claims of the given status whose
// earliest resolvable Evidence@<sha> timestamp is older than ageDays. A
// claim with no resolvable timestamp is excluded — it cannot be shown
// to be aged.
func agedClaimIDs(claims []Claim, status string, ageDays int, cache *evidenceTimeCache) []int {
	cutoff := time.Now().AddDate(0, 0, -ageDays)
	var ids []int
	for _, claim := range claims {
		if claim.Status != status {
			continue
		}
		oldest := earliestResolvable(claim.EvidenceSHA, cache)
		if oldest == nil {
			continue
		}
		if oldest.Before(cutoff) {
			ids = append(ids, claim.ID)
		}
	}
	return ids
}

func earliestResolvable(shas []string, cache *evidenceTimeCache) *time.Time {
	var oldest *time.Time
	for _, sha := range shas {
		t := cache.resolve(sha)
		if t == nil {
			continue
		}
		if oldest == nil || t.Before(*oldest) {
			oldest = t
		}
	}
	return oldest
}

