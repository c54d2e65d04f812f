package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/store"
)

// assembleFoldContent consumes queue entries from the head while their
// cumulative size stays within budget (the head entry is always consumed,
// even when it alone exceeds budget), rewrites the queue file with the
// remainder, and returns the consumed items plus the rendered body. The
// identifier header is prepended separately, once pre_assign has run —
// see foldContentHeader.
func (s *Scheduler) assembleFoldContent(budget int, foldFrom string) ([]queue.Item, string, error) {
	items, err := queue.ReadQueueFile(queuePath(s.Config))
	if err != nil {
		return nil, "", fmt.Errorf("chunker: read queue: %w", err)
	}

	var consumed []queue.Item
	total := 0
	idx := 0
	for idx < len(items) {
		size := items[idx].Size
		if total > 0 && total+size > budget {
			break
		}
		consumed = append(consumed, items[idx])
		total += size
		idx++
	}

	if err := queue.RewriteQueueFile(queuePath(s.Config), items[idx:]); err != nil {
		return nil, "", fmt.Errorf("chunker: rewrite queue remainder: %w", err)
	}

	var b strings.Builder
	for _, item := range consumed {
		b.WriteString(item.Rendered)
		b.WriteString("\n")
	}
	return consumed, b.String(), nil
}

// foldContentHeader embeds the concrete pre-assigned identifier ranges
// into the chunk input itself, per spec.md §4.2 step 4: the fold agent
// has no other way to learn which numeric ids it may use.
func foldContentHeader(assignment ids.Assignment, foldFrom string) string {
	var b strings.Builder
	b.WriteString("# Fold Chunk\n\n")
	b.WriteString("Pre-assigned identifiers (use only these; do not invent others):\n")
	writeRangeLine(&b, "C", assignment.Concepts)
	writeRangeLine(&b, "E", assignment.Evidence)
	writeRangeLine(&b, "W", assignment.Workflows)
	b.WriteString("\n")
	if foldFrom != "" {
		fmt.Fprintf(&b, "Temporal orphan advisory: evaluate existence against the repository state at or before %s, not the live filesystem.\n\n", foldFrom)
	}
	return b.String()
}

// preAssignForFold estimates new-entry counts from the consumed items'
// adapter kinds and reserves identifiers against the current living
// docs.
func (s *Scheduler) preAssignForFold(ctx context.Context, items []queue.Item) (ids.Assignment, error) {
	var newIssues, newDocPairs, newSessions int
	for _, item := range items {
		switch item.Kind {
		case "issue":
			newIssues++
		case "document_initial", "document_revisit":
			newDocPairs++
		case "session":
			newSessions++
		}
	}
	estimate := ids.EstimateFromCounts(newIssues, newDocPairs, newSessions, s.Config.Budget.MaxNewEntriesPerCategory)

	var livingPaths []string
	for _, p := range s.Config.Docs.Living {
		livingPaths = append(livingPaths, filepath.Join(s.Config.ProjectRoot, p))
	}
	return s.Alloc.PreAssign(ctx, livingPaths, estimate)
}

// assembleTriageContent renders the appropriate template for a
// drift-triggered chunk, including ref_commit/ref_date when the scanner
// ran in temporal mode.
func (s *Scheduler) assembleTriageContent(chunkType ChunkType, report drift.Report, foldFrom string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Triage Chunk: %s\n\n", chunkType)
	if report.TemporalCommit != "" {
		fmt.Fprintf(&b, "ref_commit: %s\nref_date: %s\n\n", report.TemporalCommit, report.TemporalDate)
	}

	switch drift.Type(chunkType) {
	case drift.TypeOrphanedConcepts:
		b.WriteString("Concepts with no surviving code-path reference:\n")
		for _, id := range report.OrphanedConceptIDs {
			fmt.Fprintf(&b, "- C%d\n", id)
		}
	case drift.TypeContestedClaims:
		b.WriteString("Claims contested beyond the review window:\n")
		for _, id := range report.ContestedClaimIDs {
			fmt.Fprintf(&b, "- E%d\n", id)
		}
	case drift.TypeStaleUnverified:
		b.WriteString("Claims unverified beyond the staleness window:\n")
		for _, id := range report.StaleUnverifiedIDs {
			fmt.Fprintf(&b, "- E%d\n", id)
		}
	case drift.TypeWorkflowRepeat:
		b.WriteString("Current workflows eligible for synthesis:\n")
		for _, id := range report.CurrentWorkflowIDs {
			fmt.Fprintf(&b, "- W%d\n", id)
		}
	}
	return b.String()
}

func foldPromptInstructions(assignment ids.Assignment) string {
	var b strings.Builder
	b.WriteString("Fold the attached chunk into the living docs.\n")
	b.WriteString("Use only the identifiers below; do not invent others:\n")
	writeRangeLine(&b, "C", assignment.Concepts)
	writeRangeLine(&b, "E", assignment.Evidence)
	writeRangeLine(&b, "W", assignment.Workflows)
	b.WriteString("Every new concept entry must include a Code: field naming its source paths.\n")
	return b.String()
}

func triagePromptInstructions(chunkType ChunkType) string {
	return fmt.Sprintf("Resolve the %s drift reflected in the attached chunk using only existing identifiers; do not allocate new ones.\n", chunkType)
}

func writeRangeLine(b *strings.Builder, prefix string, r store.IDRange) {
	if r.Len() == 0 {
		fmt.Fprintf(b, "%s: (none reserved)\n", prefix)
		return
	}
	if r.Len() == 1 {
		fmt.Fprintf(b, "%s: %s%d\n", prefix, prefix, r.Start)
		return
	}
	fmt.Fprintf(b, "%s: %s%d-%s%d\n", prefix, prefix, r.Start, prefix, r.End-1)
}
