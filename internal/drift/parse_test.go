package drift

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestParseConceptsExtractsStatusAndCodePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeTestDoc(t, dir, "concepts.md", `### C001 Widget Cache
Status: ACTIVE
Code: internal/cache/widget.go, internal/cache/store.go

### C002 Retired Thing
Status: RETIRED
Code: internal/old/thing.go
`)
	concepts, err := ParseConcepts(path)
	if err != nil {
		t.Fatalf("parse concepts: %v", err)
	}
	if len(concepts) != 2 {
		t.Fatalf("expected 2 concepts, got %d: %+v", len(concepts), concepts)
	}
	if concepts[0].ID != 1 || concepts[0].Status != "ACTIVE" || len(concepts[0].CodePaths) != 2 {
		t.Fatalf("unexpected first concept: %+v", concepts[0])
	}
}

func TestParseClaimsExtractsEvidenceSHAs(t *testing.T) {
	dir := t.TempDir()
	path := writeTestDoc(t, dir, "epistemic.md", `### E007 Latency claim
Status: contested
History:
Evidence@abc1234 foo.md:12: measured slow
Evidence@def5678 bar.md:3: confirmed again
`)
	claims, err := ParseClaims(path)
	if err != nil {
		t.Fatalf("parse claims: %v", err)
	}
	if len(claims) != 1 || claims[0].ID != 7 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims[0].EvidenceSHA) != 2 {
		t.Fatalf("expected 2 evidence shas, got %+v", claims[0].EvidenceSHA)
	}
}

func TestParseWorkflowsExtractsStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeTestDoc(t, dir, "workflows.md", `### W003 Deploy Pipeline
Status: CURRENT
`)
	workflows, err := ParseWorkflows(path)
	if err != nil {
		t.Fatalf("parse workflows: %v", err)
	}
	if len(workflows) != 1 || workflows[0].Status != "CURRENT" {
		t.Fatalf("unexpected workflows: %+v", workflows)
	}
}

func TestParseMissingFileReturnsNoEntriesNoError(t *testing.T) {
	concepts, err := ParseConcepts(filepath.Join(t.TempDir(), "missing.md"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if concepts != nil {
		t.Fatalf("expected nil concepts for missing file, got %+v", concepts)
	}
}
