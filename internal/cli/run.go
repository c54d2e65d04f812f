package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Enter the server loop in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServerLoop(cmd, rootOpts)
		},
	}
}

func runServerLoop(cmd *cobra.Command, rootOpts *RootOptions) error {
	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), "engram server loop started; press Ctrl-C to stop")
	if err := a.serverLoop().Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server loop exited with an error", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "engram server loop stopped")
	return nil
}
