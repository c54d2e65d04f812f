package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/docscan"
	"github.com/rajeshgoli/engram/internal/queue"
)

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var foldFrom string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing graveyard docs and raise counters past ids in pre-existing docs (no identifier backfill or workflow extraction)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, rootOpts, foldFrom)
		},
	}
	cmd.Flags().StringVar(&foldFrom, "fold-from", "", "optionally set fold_from after migrating (YYYY-MM-DD)")
	return cmd
}

// runMigrate is idempotent: every step either bumps a monotonic counter
// floor (a no-op once the floor already clears the scanned max) or
// creates a file only if absent.
func runMigrate(cmd *cobra.Command, rootOpts *RootOptions, foldFrom string) error {
	if foldFrom != "" {
		if err := queue.ValidateStartDate(foldFrom); err != nil {
			return WrapExitError(ExitCommandError, "invalid --fold-from date", err)
		}
	}

	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, rel := range a.cfg.Docs.Graveyard {
		full := filepath.Join(a.cfg.ProjectRoot, rel)
		if atomicio.Exists(full) {
			continue
		}
		header := requiredHeaders[filepath.Base(rel)]
		if header == "" {
			header = fmt.Sprintf("# %s\n", filepath.Base(rel))
		}
		if err := atomicio.WriteFile(full, []byte(header), 0o644); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to create graveyard doc %s", rel), err)
		}
	}

	var livingPaths []string
	for _, rel := range a.cfg.Docs.Living {
		livingPaths = append(livingPaths, filepath.Join(a.cfg.ProjectRoot, rel))
	}
	occurrences, err := docscan.ScanFiles(livingPaths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to scan living docs", err)
	}

	for _, cat := range []docscan.Category{docscan.Concept, docscan.Evidence, docscan.Workflow} {
		floor := docscan.MaxID(occurrences, cat) + 1
		if err := a.store.BumpCounterFloor(cmd.Context(), string(cat), floor); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to bump %s counter floor", cat), err)
		}
	}

	if foldFrom != "" {
		if err := a.store.SetFoldFrom(cmd.Context(), &foldFrom); err != nil {
			return WrapExitError(ExitCommandError, "failed to set fold_from", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
	return nil
}
