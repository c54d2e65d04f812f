package adapters

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rajeshgoli/engram/internal/config"
)

// SessionFormat parses one session-history file shape into Entry
// records. claude-code is built in; other formats register themselves
// the same way to extend the session adapter without this package
// knowing about them.
type SessionFormat func(path, projectMatch string) ([]Entry, error)

var sessionFormats = map[string]SessionFormat{
	"claude-code": parseClaudeCodeHistory,
}

// RegisterSessionFormat adds or overrides a named session format.
func RegisterSessionFormat(name string, fn SessionFormat) {
	sessionFormats[name] = fn
}

// ScanSessions runs every configured session source through its format
// parser and concatenates the results. An unrecognized format is
// skipped rather than failing the whole adapter.
func ScanSessions(sources []config.SessionFormatConfig) ([]Entry, error) {
	var entries []Entry
	for _, src := range sources {
		fn, ok := sessionFormats[src.Format]
		if !ok {
			continue
		}
		found, err := fn(expandHome(src.Path), src.ProjectMatch)
		if err != nil {
			continue
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// claudeCodeLine is one JSON line in a claude-code history file.
type claudeCodeLine struct {
	SessionID   string `json:"session_id"`
	ProjectPath string `json:"project_path"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"` // RFC3339
}

// parseClaudeCodeHistory groups every line sharing a session_id (adjacent
// or not) into one session, filters by substring match against the project
// path, and renders each surviving session as markdown. Malformed lines
// are skipped; a session with no valid lines is dropped.
func parseClaudeCodeHistory(path, projectMatch string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("adapters: open session history %s: %w", path, err)
	}
	defer f.Close()

	order := []string{}
	sessions := map[string][]claudeCodeLine{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec claudeCodeLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.SessionID == "" || rec.Timestamp == "" {
			continue
		}
		if projectMatch != "" && !strings.Contains(rec.ProjectPath, projectMatch) {
			continue
		}
		if _, seen := sessions[rec.SessionID]; !seen {
			order = append(order, rec.SessionID)
		}
		sessions[rec.SessionID] = append(sessions[rec.SessionID], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("adapters: scan session history %s: %w", path, err)
	}

	var entries []Entry
	for _, id := range order {
		lines := sessions[id]
		if len(lines) == 0 {
			continue
		}
		date := lines[0].Timestamp
		if len(date) < 10 {
			continue
		}
		entries = append(entries, Entry{
			Date:     date[:10],
			Rendered: renderClaudeCodeSession(id, lines),
			Path:     path,
			Kind:     "session",
		})
	}
	return entries, nil
}

func renderClaudeCodeSession(id string, lines []claudeCodeLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Session %s\n\n", id)
	for _, l := range lines {
		fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", l.Role, l.Timestamp, strings.TrimSpace(l.Content))
	}
	return b.String()
}
