package linter

import (
	"context"
	"fmt"

	"github.com/rajeshgoli/engram/internal/docscan"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/store"
)

// DefaultLinter is the built-in regex-based validator: it checks that
// every pre-assigned identifier for this chunk appears at most once
// across the scanned documents (every regex match counts, cross-references
// included; an unused reserved id passes), and that every concept entry
// in the pre-assigned range carries a
// Code: field (its absence is the exact failure mode in Scenario C).
type DefaultLinter struct {
	Concepts  store.IDRange
	Evidence  store.IDRange
	Workflows store.IDRange
}

func NewDefaultLinter(concepts, evidence, workflows store.IDRange) *DefaultLinter {
	return &DefaultLinter{Concepts: concepts, Evidence: evidence, Workflows: workflows}
}

func (l *DefaultLinter) Lint(ctx context.Context, docPaths []string, chunkInputPath string) (Result, error) {
	occurrences, err := docscan.ScanFiles(docPaths)
	if err != nil {
		return Result{}, fmt.Errorf("linter: scan docs: %w", err)
	}

	var violations []Violation
	violations = append(violations, checkExactlyOnce(occurrences, docscan.Concept, l.Concepts)...)
	violations = append(violations, checkExactlyOnce(occurrences, docscan.Evidence, l.Evidence)...)
	violations = append(violations, checkExactlyOnce(occurrences, docscan.Workflow, l.Workflows)...)

	for _, path := range docPaths {
		concepts, err := drift.ParseConcepts(path)
		if err != nil {
			continue
		}
		for _, c := range concepts {
			if !inRange(c.ID, l.Concepts) {
				continue
			}
			if len(c.CodePaths) == 0 {
				violations = append(violations, Violation{
					Path:       path,
					Identifier: fmt.Sprintf("C%d", c.ID),
					Message:    "missing Code: field",
				})
			}
		}
	}

	return Result{Pass: len(violations) == 0, Violations: violations}, nil
}

func checkExactlyOnce(occurrences []docscan.Occurrence, category docscan.Category, r store.IDRange) []Violation {
	if r.Len() == 0 {
		return nil
	}
	counts := make(map[int]int)
	for _, o := range occurrences {
		if o.Category == category {
			counts[o.Number]++
		}
	}
	// An id reserved but never used is not a violation: per the
	// allocator's monotonic discipline, unused reservations are simply
	// skipped, never reclaimed. Only an id matched more than once is
	// flagged; a mention outside the entry's header counts as a match.
	var violations []Violation
	for n := r.Start; n < r.End; n++ {
		if counts[n] > 1 {
			violations = append(violations, Violation{
				Identifier: fmt.Sprintf("%s%d", category, n),
				Message:    fmt.Sprintf("identifier appears %d times, expected at most once", counts[n]),
			})
		}
	}
	return violations
}

func inRange(n int, r store.IDRange) bool {
	return n >= r.Start && n < r.End
}
