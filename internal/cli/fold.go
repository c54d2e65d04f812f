package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/queue"
)

func newFoldCommand(rootOpts *RootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "fold",
		Short: "Forward-fold without re-seeding (path C continuation)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFold(cmd, rootOpts, from)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "the fold_from date to resume folding from (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runFold(cmd *cobra.Command, rootOpts *RootOptions, from string) error {
	if err := queue.ValidateStartDate(from); err != nil {
		return WrapExitError(ExitCommandError, "invalid --from date", err)
	}

	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SetFoldFrom(cmd.Context(), &from); err != nil {
		return WrapExitError(ExitCommandError, "failed to set fold_from", err)
	}
	if err := a.bootstrapController().ForwardFold(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "forward fold failed", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "forward-folded from %s\n", from)
	return nil
}
