package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var fromDate string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bootstrap living docs from the current repo state, or from a historical commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, rootOpts, fromDate)
		},
	}
	cmd.Flags().StringVar(&fromDate, "from-date", "", "seed at the commit nearest this date (YYYY-MM-DD), then forward-fold to the present")
	return cmd
}

func runSeed(cmd *cobra.Command, rootOpts *RootOptions, fromDate string) error {
	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.bootstrapController()
	if fromDate == "" {
		if err := ctrl.SeedOnly(cmd.Context()); err != nil {
			return WrapExitError(ExitCommandError, "seed failed", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "seeded living docs from the current repo state")
		return nil
	}

	if err := ctrl.SeedFromDate(cmd.Context(), fromDate); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("seed from %s failed", fromDate), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "seeded living docs at %s and forward-folded to the present\n", fromDate)
	return nil
}
