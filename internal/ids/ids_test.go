package ids

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rajeshgoli/engram/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "state.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestPreAssignBumpsFloorPastLivingDocs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	doc := writeDoc(t, dir, "concepts.md", "See C042 and C010 for context. Also E003.")

	alloc := New(s)
	assignment, err := alloc.PreAssign(ctx, []string{doc}, Estimate{Concepts: 2, Evidence: 1})
	if err != nil {
		t.Fatalf("pre_assign: %v", err)
	}
	if assignment.Concepts.Start != 43 {
		t.Fatalf("expected concept range to start past max existing id 42, got %+v", assignment.Concepts)
	}
	if assignment.Evidence.Start != 4 {
		t.Fatalf("expected evidence range to start past max existing id 3, got %+v", assignment.Evidence)
	}
	if assignment.Workflows.Len() != 0 {
		t.Fatalf("expected zero workflow ids when estimate is zero, got %+v", assignment.Workflows)
	}
}

func TestPreAssignDisjointAcrossCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	alloc := New(s)

	first, err := alloc.PreAssign(ctx, nil, Estimate{Concepts: 3})
	if err != nil {
		t.Fatalf("first pre_assign: %v", err)
	}
	second, err := alloc.PreAssign(ctx, nil, Estimate{Concepts: 2})
	if err != nil {
		t.Fatalf("second pre_assign: %v", err)
	}
	if second.Concepts.Start != first.Concepts.End {
		t.Fatalf("expected monotonic disjoint ranges, got %+v then %+v", first.Concepts, second.Concepts)
	}
}

func TestPreAssignZeroEstimateStillBumpsFloor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	doc := writeDoc(t, dir, "workflows.md", "Current: W099")

	alloc := New(s)
	if _, err := alloc.PreAssign(ctx, []string{doc}, Estimate{}); err != nil {
		t.Fatalf("pre_assign: %v", err)
	}
	r, err := s.ReserveIDs(ctx, "W", 1)
	if err != nil {
		t.Fatalf("reserve after zero-estimate pre_assign: %v", err)
	}
	if r.Start != 100 {
		t.Fatalf("expected floor bumped to 100 from doc scan, got %+v", r)
	}
}

func TestEstimateFromCountsClampsPerCategory(t *testing.T) {
	est := EstimateFromCounts(10, 10, 10, 5)
	if est.Concepts != 5 || est.Evidence != 5 || est.Workflows != 5 {
		t.Fatalf("expected all categories clamped to 5, got %+v", est)
	}

	unclamped := EstimateFromCounts(1, 2, 3, 0)
	if unclamped.Concepts != 5 || unclamped.Evidence != 4 || unclamped.Workflows != 3 {
		t.Fatalf("expected uncapped sums when capPerCategory is 0, got %+v", unclamped)
	}
}
