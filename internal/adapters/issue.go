package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Issue is the on-disk shape of one issue file under the configured
// issues directory.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	State     string   `json:"state"`
	Labels    []string `json:"labels"`
	CreatedAt string   `json:"created_at"` // YYYY-MM-DD or RFC3339
	ClosedAt  string   `json:"closed_at,omitempty"`
}

// ScanIssues reads every *.json file under dir, renders each to
// markdown, and returns one Entry per well-formed issue. Malformed or
// unreadable files are skipped rather than failing the whole scan.
func ScanIssues(dir string) ([]Entry, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("adapters: glob issues dir %s: %w", dir, err)
	}
	sort.Strings(matches)

	var entries []Entry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var issue Issue
		if err := json.Unmarshal(data, &issue); err != nil {
			continue
		}
		date := issueDate(issue)
		if date == "" {
			continue
		}
		entries = append(entries, Entry{
			Date:     date,
			Rendered: renderIssue(issue),
			Path:     path,
			Kind:     "issue",
		})
	}
	return entries, nil
}

func issueDate(issue Issue) string {
	if len(issue.CreatedAt) >= 10 {
		return issue.CreatedAt[:10]
	}
	return ""
}

func renderIssue(issue Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Issue #%d: %s\n\n", issue.Number, issue.Title)
	fmt.Fprintf(&b, "State: %s\n", issue.State)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(issue.Body))
	b.WriteString("\n")
	return b.String()
}
