// Package briefing renders the L0 briefing: a short standing summary
// that the server loop regenerates whenever l0_stale is set and the
// queue has drained. The rendering itself is a pure function of the
// living docs' current identifier counts and the singleton's temporal
// state — the markdown template is intentionally minimal, since the
// concrete prose a fold agent would produce is out of scope here.
package briefing

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/docscan"
)

// Regenerate recomputes the L0 briefing section and splices it into
// cfg.Docs.BriefingFile under cfg.Docs.BriefingSection, replacing any
// prior rendering of that section and leaving the rest of the file
// untouched.
func Regenerate(cfg *config.Config, generatedAt time.Time) error {
	occurrences, err := docscan.ScanFiles(absolutePaths(cfg, cfg.Docs.Living))
	if err != nil {
		return fmt.Errorf("briefing: scan living docs: %w", err)
	}

	section := render(cfg, occurrences, generatedAt)
	return spliceSection(absolutePath(cfg, cfg.Docs.BriefingFile), cfg.Docs.BriefingSection, section)
}

func render(cfg *config.Config, occurrences []docscan.Occurrence, generatedAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", cfg.Docs.BriefingSection)
	fmt.Fprintf(&b, "Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Concepts through C%d\n", docscan.MaxID(occurrences, docscan.Concept))
	fmt.Fprintf(&b, "- Evidence through E%d\n", docscan.MaxID(occurrences, docscan.Evidence))
	fmt.Fprintf(&b, "- Workflows through W%d\n", docscan.MaxID(occurrences, docscan.Workflow))
	return b.String()
}

// spliceSection replaces the block starting at the heading line
// matching section, up to the next line starting with "## " or EOF, with
// newSection. If the heading is not found, newSection is appended.
func spliceSection(path, section, newSection string) error {
	data, err := readIfExists(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == strings.TrimSpace(section) {
			start = i
			break
		}
	}

	var rebuilt []string
	if start == -1 {
		rebuilt = lines
		if len(rebuilt) > 0 && strings.TrimSpace(rebuilt[len(rebuilt)-1]) != "" {
			rebuilt = append(rebuilt, "")
		}
		rebuilt = append(rebuilt, strings.TrimRight(newSection, "\n"))
	} else {
		end := len(lines)
		for i := start + 1; i < len(lines); i++ {
			if strings.HasPrefix(lines[i], "## ") {
				end = i
				break
			}
		}
		rebuilt = append(rebuilt, lines[:start]...)
		rebuilt = append(rebuilt, strings.TrimRight(newSection, "\n"))
		rebuilt = append(rebuilt, lines[end:]...)
	}

	return writeFile(path, []byte(strings.TrimLeft(strings.Join(rebuilt, "\n"), "\n")+"\n"))
}

func absolutePaths(cfg *config.Config, rel []string) []string {
	out := make([]string, len(rel))
	for i, p := range rel {
		out[i] = absolutePath(cfg, p)
	}
	return out
}

func absolutePath(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.ProjectRoot, rel)
}

func readIfExists(path string) ([]byte, error) {
	data, err := atomicio.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("briefing: read %s: %w", path, err)
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	return atomicio.WriteFile(path, data, 0o644)
}
