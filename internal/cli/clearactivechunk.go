package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/chunker"
)

func newClearActiveChunkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-active-chunk",
		Short: "Remove the active-chunk lock and run crash recovery on any non-terminal dispatch record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := chunker.ClearLock(a.cfg); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear active chunk lock", err)
			}
			// The lock file only ever covers one in-flight chunk, but a
			// process kill can leave a non-terminal dispatch row behind
			// with no lock file at all (e.g. it died between BeginDispatch
			// and the lock write). RecoverCrashed is the same sweep the
			// server loop runs at startup; running it here too means this
			// command alone unsticks BeginDispatch's at-most-one-in-flight
			// check without requiring a process restart.
			if err := a.dispatcher.RecoverCrashed(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "failed to recover abandoned dispatch records", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "active chunk lock cleared")
			return nil
		},
	}
}
