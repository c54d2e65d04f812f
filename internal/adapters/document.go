package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rajeshgoli/engram/internal/gitutil"
)

// MinRevisitSeparationDays is the minimum gap between a document's first
// and last commit date for both an INITIAL and a REVISIT entry to be
// emitted. Below this, the two dates would likely land in the same
// chunk and the REVISIT entry adds nothing.
const MinRevisitSeparationDays = 1

// ScanDocuments walks each root under roots and emits one INITIAL entry
// per file at its git first-commit date, plus a REVISIT entry at its
// last-commit date when the two dates differ by at least
// MinRevisitSeparationDays.
func ScanDocuments(ctx context.Context, repo *gitutil.Repository, roots []string) ([]Entry, error) {
	var paths []string
	for _, root := range roots {
		found, err := collectFiles(root)
		if err != nil {
			continue
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)

	var entries []Entry
	for _, path := range paths {
		rel := relativeToRepo(repo, path)
		first, err := repo.FirstCommitDate(ctx, rel)
		if err != nil {
			continue
		}
		body, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Date:     first,
			Rendered: renderDocument(path, "INITIAL", string(body)),
			Path:     path,
			Kind:     "document_initial",
		})

		last, err := repo.LastCommitDate(ctx, rel)
		if err != nil {
			continue
		}
		if !separatedEnough(first, last) {
			continue
		}
		entries = append(entries, Entry{
			Date:     last,
			Rendered: renderDocument(path, "REVISIT", string(body)),
			Path:     path,
			Kind:     "document_revisit",
		})
	}
	return entries, nil
}

func collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var out []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".md") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func relativeToRepo(repo *gitutil.Repository, path string) string {
	rel, err := filepath.Rel(repo.Dir(), path)
	if err != nil {
		return path
	}
	return rel
}

func separatedEnough(first, last string) bool {
	t1, err1 := time.Parse("2006-01-02", first)
	t2, err2 := time.Parse("2006-01-02", last)
	if err1 != nil || err2 != nil {
		return false
	}
	return t2.Sub(t1) >= MinRevisitSeparationDays*24*time.Hour
}

func renderDocument(path, phase, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Document %s: %s\n\n", phase, path)
	b.WriteString(strings.TrimSpace(body))
	b.WriteString("\n")
	return b.String()
}
