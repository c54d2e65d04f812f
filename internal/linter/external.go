package linter

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/rajeshgoli/engram/internal/agentexec"
)

// ExternalLinter delegates validation to a configured command. The
// command receives the document paths as trailing arguments; exit code
// 0 is pass, non-zero is fail. Violations are parsed from stdout, one
// per line, in "path: identifier: message" form — lines that don't
// match are kept as unaddressed violations so nothing is silently
// dropped.
type ExternalLinter struct {
	Command    []string
	WorkingDir string
}

func NewExternalLinter(command []string, workingDir string) *ExternalLinter {
	return &ExternalLinter{Command: command, WorkingDir: workingDir}
}

func (l *ExternalLinter) Lint(ctx context.Context, docPaths []string, chunkInputPath string) (Result, error) {
	result, err := agentexec.InvokeLinterCommand(ctx, l.Command, docPaths, l.WorkingDir)
	if err != nil {
		return Result{}, fmt.Errorf("linter: external command: %w", err)
	}
	if result.ExitCode == 0 {
		return Result{Pass: true}, nil
	}
	return Result{Pass: false, Violations: parseViolationLines(result.Stdout)}, nil
}

func parseViolationLines(stdout string) []Violation {
	var violations []Violation
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ": ", 3)
		if len(parts) == 3 {
			violations = append(violations, Violation{Path: parts[0], Identifier: parts[1], Message: parts[2]})
			continue
		}
		violations = append(violations, Violation{Message: line})
	}
	return violations
}
