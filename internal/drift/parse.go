package drift

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	conceptHeader  = regexp.MustCompile(`^###\s+C(\d+)\s+(.*)$`)
	claimHeader    = regexp.MustCompile(`^###\s+E(\d+)\s+(.*)$`)
	workflowHeader = regexp.MustCompile(`^###\s+W(\d+)\s+(.*)$`)
	statusLine     = regexp.MustCompile(`^Status:\s*(\S+)`)
	codeLine       = regexp.MustCompile(`^Code:\s*(.*)$`)
	evidenceLine   = regexp.MustCompile(`Evidence@([0-9a-fA-F]+)\s+(.*)`)
)

// Concept is one entry parsed from the concepts living doc.
type Concept struct {
	ID        int
	Status    string
	CodePaths []string
}

// Claim is one entry parsed from the epistemic living doc.
type Claim struct {
	ID          int
	Status      string
	EvidenceSHA []string // chronological-ish order as they appear in the history block
}

// Workflow is one entry parsed from the workflows living doc.
type Workflow struct {
	ID     int
	Status string
}

// ParseConcepts reads path and returns every ### C<id> entry with its
// Status and Code: paths. Entries missing a header match are ignored.
func ParseConcepts(path string) ([]Concept, error) {
	var out []Concept
	err := scanEntries(path, conceptHeader, func(id int, lines []string) {
		c := Concept{ID: id}
		for _, line := range lines {
			if m := statusLine.FindStringSubmatch(line); m != nil {
				c.Status = m[1]
			}
			if m := codeLine.FindStringSubmatch(line); m != nil {
				for _, p := range strings.Split(m[1], ",") {
					p = strings.TrimSpace(p)
					if p != "" {
						c.CodePaths = append(c.CodePaths, p)
					}
				}
			}
		}
		out = append(out, c)
	})
	return out, err
}

// ParseClaims reads path and returns every ### E<id> entry with its
// Status and any Evidence@<sha> history lines, in file order.
func ParseClaims(path string) ([]Claim, error) {
	var out []Claim
	err := scanEntries(path, claimHeader, func(id int, lines []string) {
		c := Claim{ID: id}
		for _, line := range lines {
			if m := statusLine.FindStringSubmatch(line); m != nil {
				c.Status = m[1]
			}
			if m := evidenceLine.FindStringSubmatch(line); m != nil {
				c.EvidenceSHA = append(c.EvidenceSHA, m[1])
			}
		}
		out = append(out, c)
	})
	return out, err
}

// ParseWorkflows reads path and returns every ### W<id> entry with its
// Status.
func ParseWorkflows(path string) ([]Workflow, error) {
	var out []Workflow
	err := scanEntries(path, workflowHeader, func(id int, lines []string) {
		w := Workflow{ID: id}
		for _, line := range lines {
			if m := statusLine.FindStringSubmatch(line); m != nil {
				w.Status = m[1]
			}
		}
		out = append(out, w)
	})
	return out, err
}

// scanEntries walks path line by line, grouping lines under the most
// recent header match and invoking emit once per entry when the next
// header (or EOF) is reached. Missing files yield no entries and no
// error, matching docscan's tolerance of documents that don't exist yet.
func scanEntries(path string, header *regexp.Regexp, emit func(id int, lines []string)) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drift: open %s: %w", path, err)
	}
	defer f.Close()

	var currentID int
	var current []string
	inEntry := false

	flush := func() {
		if inEntry {
			emit(currentID, current)
		}
		current = nil
		inEntry = false
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if m := header.FindStringSubmatch(line); m != nil {
			flush()
			var id int
			fmt.Sscanf(m[1], "%d", &id)
			currentID = id
			inEntry = true
			continue
		}
		if inEntry {
			current = append(current, line)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("drift: scan %s: %w", path, err)
	}
	return nil
}
