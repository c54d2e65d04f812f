package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/drift"
)

func newLintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run the schema linter against living and graveyard docs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLint(cmd, rootOpts)
		},
	}
}

func runLint(cmd *cobra.Command, rootOpts *RootOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	var paths []string
	for _, rel := range append(append([]string{}, cfg.Docs.Living...), cfg.Docs.Graveyard...) {
		paths = append(paths, filepath.Join(cfg.ProjectRoot, rel))
	}

	violations := lintDocs(paths)
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d lint violation(s)", len(violations)))
	}

	fmt.Fprintln(cmd.OutOrStdout(), "no lint violations")
	return nil
}

// lintDocs checks every living/graveyard doc for duplicate ### header
// definitions per category and concept entries missing a Code: field.
// Unlike the dispatcher's per-chunk DefaultLinter, this has no
// pre-assigned range to scope to, so it walks every entry drift's
// header-parsers recognize across all of paths — cross-references
// elsewhere in the text are not headers and so are never miscounted as
// duplicate definitions.
func lintDocs(paths []string) []string {
	var violations []string
	conceptSeen := make(map[int]int)
	claimSeen := make(map[int]int)
	workflowSeen := make(map[int]int)

	for _, path := range paths {
		concepts, err := drift.ParseConcepts(path)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: failed to parse: %v", path, err))
			continue
		}
		for _, c := range concepts {
			conceptSeen[c.ID]++
			if len(c.CodePaths) == 0 {
				violations = append(violations, fmt.Sprintf("%s: C%d missing Code: field", path, c.ID))
			}
		}

		claims, err := drift.ParseClaims(path)
		if err != nil {
			continue
		}
		for _, c := range claims {
			claimSeen[c.ID]++
		}

		workflows, err := drift.ParseWorkflows(path)
		if err != nil {
			continue
		}
		for _, w := range workflows {
			workflowSeen[w.ID]++
		}
	}

	for id, n := range conceptSeen {
		if n > 1 {
			violations = append(violations, fmt.Sprintf("C%d: defined %d times", id, n))
		}
	}
	for id, n := range claimSeen {
		if n > 1 {
			violations = append(violations, fmt.Sprintf("E%d: defined %d times", id, n))
		}
	}
	for id, n := range workflowSeen {
		if n > 1 {
			violations = append(violations, fmt.Sprintf("W%d: defined %d times", id, n))
		}
	}

	return violations
}
