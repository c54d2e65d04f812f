package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/adapters"
	"github.com/rajeshgoli/engram/internal/queue"
)

func newBuildQueueCommand(rootOpts *RootOptions) *cobra.Command {
	var startDate string
	cmd := &cobra.Command{
		Use:   "build-queue",
		Short: "Run adapters and write the fold queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuildQueue(cmd, rootOpts, startDate)
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "override fold_from for this run (YYYY-MM-DD)")
	return cmd
}

func runBuildQueue(cmd *cobra.Command, rootOpts *RootOptions, startDate string) error {
	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	effective := startDate
	if effective == "" {
		singleton, err := a.store.GetSingleton(cmd.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read state", err)
		}
		if singleton.FoldFrom != nil {
			effective = *singleton.FoldFrom
		}
	}

	entries, err := adapters.ScanAll(cmd.Context(), a.cfg, a.repo)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run source adapters", err)
	}

	queuePath := filepath.Join(a.cfg.EngramDir(), "queue.jsonl")
	inventoryPath := filepath.Join(a.cfg.EngramDir(), "inventory.jsonl")
	items, err := queue.Build(entries, effective, queuePath, inventoryPath, a.cfg.EngramDir())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build queue", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d item(s) to the queue\n", len(items))
	return nil
}
