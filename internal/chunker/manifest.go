package chunker

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/drift"
)

// manifestFileEntry mirrors the append-only chunks_manifest.yaml record
// the original fold chunker writes: a flat, human-legible YAML sequence
// item read directly by downstream tooling, never rewritten in place.
type manifestFileEntry struct {
	ID          int      `yaml:"id"`
	Type        string   `yaml:"type"`
	DateRange   string   `yaml:"date_range,omitempty"`
	Items       int      `yaml:"items,omitempty"`
	Chars       int      `yaml:"chars,omitempty"`
	Entries     int      `yaml:"entries,omitempty"`
	InputFile   string   `yaml:"input_file"`
	WorkflowIDs []string `yaml:"workflow_ids,omitempty"`
}

// appendManifestFile appends entry to chunks_manifest.yaml as a single
// YAML sequence item, matching the original's one-entry-per-append
// behavior so the file stays valid YAML (a flat list) no matter how many
// chunks have been recorded.
func appendManifestFile(cfg *config.Config, entry manifestFileEntry) error {
	data, err := yaml.Marshal([]manifestFileEntry{entry})
	if err != nil {
		return fmt.Errorf("chunker: marshal manifest entry %d: %w", entry.ID, err)
	}
	return atomicio.AppendLine(manifestFilePath(cfg), strings.TrimRight(string(data), "\n"))
}

func foldManifestEntry(chunkID int, dateRange string, items int, chars int) manifestFileEntry {
	return manifestFileEntry{
		ID:        chunkID,
		Type:      string(TypeFold),
		DateRange: dateRange,
		Items:     items,
		Chars:     chars,
		InputFile: fmt.Sprintf("chunk_%03d_input.md", chunkID),
	}
}

func triageManifestEntry(chunkID int, chunkType ChunkType, report drift.Report) manifestFileEntry {
	entry := manifestFileEntry{
		ID:        chunkID,
		Type:      string(chunkType),
		InputFile: fmt.Sprintf("chunk_%03d_input.md", chunkID),
	}
	switch drift.Type(chunkType) {
	case drift.TypeOrphanedConcepts:
		entry.Entries = len(report.OrphanedConceptIDs)
	case drift.TypeContestedClaims:
		entry.Entries = len(report.ContestedClaimIDs)
	case drift.TypeStaleUnverified:
		entry.Entries = len(report.StaleUnverifiedIDs)
	case drift.TypeWorkflowRepeat:
		entry.Entries = len(report.CurrentWorkflowIDs)
		for _, id := range report.CurrentWorkflowIDs {
			entry.WorkflowIDs = append(entry.WorkflowIDs, fmt.Sprintf("W%d", id))
		}
	}
	return entry
}
