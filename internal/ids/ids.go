// Package ids implements the identifier allocator: it pre-assigns
// Concept/Evidence/Workflow identifiers for a chunk up front so the fold
// agent never allocates lazily.
package ids

import (
	"context"
	"fmt"

	"github.com/rajeshgoli/engram/internal/docscan"
	"github.com/rajeshgoli/engram/internal/store"
)

// Estimate is the per-category count of entries a chunk is expected to
// create, derived from the adapter mix feeding the chunk. The exact
// formula is a configurable heuristic, not a hard count.
type Estimate struct {
	Concepts  int
	Evidence  int
	Workflows int
}

// Assignment is the result of pre_assign: disjoint id ranges per
// category, embedded verbatim into the chunk input.
type Assignment struct {
	Concepts  store.IDRange
	Evidence  store.IDRange
	Workflows store.IDRange
}

// Allocator pre-assigns identifiers against the state store, first
// raising each category's counter floor past whatever the living docs
// already contain so a drifted counter can never collide with an
// existing id.
type Allocator struct {
	store *store.Store
}

func New(s *store.Store) *Allocator {
	return &Allocator{store: s}
}

// PreAssign scans livingDocPaths for the current maximum id per
// category, bumps the counter floor past it, then reserves est's
// requested counts in per-category transactions. Zero-count categories
// reserve zero ids and contribute an empty range.
func (a *Allocator) PreAssign(ctx context.Context, livingDocPaths []string, est Estimate) (Assignment, error) {
	occurrences, err := docscan.ScanFiles(livingDocPaths)
	if err != nil {
		return Assignment{}, fmt.Errorf("ids: scan living docs: %w", err)
	}

	concepts, err := a.reserveWithFloor(ctx, docscan.Concept, occurrences, est.Concepts)
	if err != nil {
		return Assignment{}, err
	}
	evidence, err := a.reserveWithFloor(ctx, docscan.Evidence, occurrences, est.Evidence)
	if err != nil {
		return Assignment{}, err
	}
	workflows, err := a.reserveWithFloor(ctx, docscan.Workflow, occurrences, est.Workflows)
	if err != nil {
		return Assignment{}, err
	}

	return Assignment{Concepts: concepts, Evidence: evidence, Workflows: workflows}, nil
}

func (a *Allocator) reserveWithFloor(ctx context.Context, cat docscan.Category, occurrences []docscan.Occurrence, count int) (store.IDRange, error) {
	floor := docscan.MaxID(occurrences, cat) + 1
	if count <= 0 {
		if err := a.store.BumpCounterFloor(ctx, string(cat), floor); err != nil {
			return store.IDRange{}, fmt.Errorf("ids: bump floor for %s: %w", cat, err)
		}
		return store.IDRange{}, nil
	}
	r, err := a.store.ReserveIDsWithFloor(ctx, string(cat), floor, count)
	if err != nil {
		return store.IDRange{}, fmt.Errorf("ids: reserve %s: %w", cat, err)
	}
	return r, nil
}

// EstimateFromCounts applies a capped heuristic: raw adapter-kind counts,
// clamped to a per-category ceiling from configuration so a single
// oversized fold doesn't reserve an unbounded run of ids.
func EstimateFromCounts(newIssues, newDocPairs, newSessions, capPerCategory int) Estimate {
	clamp := func(n int) int {
		if capPerCategory > 0 && n > capPerCategory {
			return capPerCategory
		}
		return n
	}
	return Estimate{
		Concepts:  clamp(newDocPairs + newSessions),
		Evidence:  clamp(newIssues + newSessions),
		Workflows: clamp(newSessions),
	}
}
