package linter

import (
	"context"
	"testing"
)

func TestExternalLinterPassesOnZeroExit(t *testing.T) {
	l := NewExternalLinter([]string{"true"}, "")
	result, err := l.Lint(context.Background(), []string{"docs/concepts.md"}, "")
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !result.Pass {
		t.Fatalf("expected pass")
	}
}

func TestExternalLinterParsesViolationLines(t *testing.T) {
	l := NewExternalLinter([]string{"sh", "-c", "echo 'docs/concepts.md: C010: missing Code: field' && exit 1"}, "")
	result, err := l.Lint(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if result.Pass {
		t.Fatalf("expected failure")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v", result.Violations)
	}
	if result.Violations[0].Path != "docs/concepts.md" || result.Violations[0].Identifier != "C010" {
		t.Fatalf("unexpected violation parse: %+v", result.Violations[0])
	}
}
