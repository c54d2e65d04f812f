package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/queue"
)

func newStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print buffer fill, last dispatch, pending items, fold_from, l0_stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
}

func runStatus(cmd *cobra.Command, rootOpts *RootOptions) error {
	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	singleton, err := a.store.GetSingleton(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}

	items, err := queue.ReadQueueFile(filepath.Join(a.cfg.EngramDir(), "queue.jsonl"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read queue", err)
	}

	status := statusReport{
		BufferTotalChars:  singleton.BufferTotalChars,
		PendingQueueItems: len(items),
		L0Stale:           singleton.L0Stale,
	}
	if singleton.LastDispatchTime != nil {
		status.LastDispatchTime = singleton.LastDispatchTime.Format("2006-01-02T15:04:05Z")
	}
	if singleton.FoldFrom != nil {
		status.FoldFrom = *singleton.FoldFrom
	}

	formatter := newFormatter(rootOpts, cmd.OutOrStdout())
	if rootOpts.Format == "json" {
		return formatter.Success(status)
	}
	return formatter.Success(status.String())
}

type statusReport struct {
	BufferTotalChars  int    `json:"buffer_total_chars"`
	PendingQueueItems int    `json:"pending_queue_items"`
	LastDispatchTime  string `json:"last_dispatch_time,omitempty"`
	FoldFrom          string `json:"fold_from,omitempty"`
	L0Stale           bool   `json:"l0_stale"`
}

func (s statusReport) String() string {
	lastDispatch := s.LastDispatchTime
	if lastDispatch == "" {
		lastDispatch = "(never)"
	}
	foldFrom := s.FoldFrom
	if foldFrom == "" {
		foldFrom = "(unset)"
	}
	return fmt.Sprintf(
		"buffer_total_chars: %d\npending_queue_items: %d\nlast_dispatch_time: %s\nfold_from: %s\nl0_stale: %t",
		s.BufferTotalChars, s.PendingQueueItems, lastDispatch, foldFrom, s.L0Stale,
	)
}
