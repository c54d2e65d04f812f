package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rajeshgoli/engram/internal/engerr"
	"github.com/rajeshgoli/engram/internal/store"
)

func newNextChunkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next-chunk",
		Short: "Invoke the scheduler to assemble the next chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNextChunk(cmd, rootOpts)
		},
	}
}

func runNextChunk(cmd *cobra.Command, rootOpts *RootOptions) error {
	a, err := openApp(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.store.BeginDispatch(cmd.Context(), "", uuid.NewString())
	if err != nil {
		if errors.Is(err, engerr.ErrAlreadyActive) {
			return NewExitError(ExitFailure, fmt.Sprintf("%v; run `engram clear-active-chunk` if the prior run is abandoned", err))
		}
		return WrapExitError(ExitCommandError, "failed to reserve a chunk id", err)
	}

	plan, err := a.sched.BuildChunk(cmd.Context(), int(rec.ID), "")
	if err != nil {
		// The building record just reserved a chunk id and has no other
		// side effects; fail it terminally so the next invocation's
		// BeginDispatch isn't blocked until a crash-recovery pass runs.
		if setErr := a.store.SetState(cmd.Context(), rec.ID, store.DispatchFailed); setErr != nil {
			a.logger.Warn("next-chunk: failed to mark abandoned building record as failed", "id", rec.ID, "error", setErr)
		}
		if errors.Is(err, engerr.ErrAlreadyActive) {
			return NewExitError(ExitFailure, fmt.Sprintf("%v; run `engram clear-active-chunk` if the prior run is abandoned", err))
		}
		return WrapExitError(ExitCommandError, "failed to assemble chunk", err)
	}

	if err := a.store.SetArtifactPaths(cmd.Context(), rec.ID, plan.InputPath, plan.PromptPath); err != nil {
		return WrapExitError(ExitCommandError, "failed to record chunk artifact paths", err)
	}
	if plan.Assignment.Concepts.Len() > 0 || plan.Assignment.Evidence.Len() > 0 || plan.Assignment.Workflows.Len() > 0 {
		assignmentJSON, err := json.Marshal(plan.Assignment)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to marshal pre-assigned ranges", err)
		}
		if err := a.store.SetAssignment(cmd.Context(), rec.ID, string(assignmentJSON)); err != nil {
			return WrapExitError(ExitCommandError, "failed to record pre-assigned ranges", err)
		}
	}
	if err := a.store.SetState(cmd.Context(), rec.ID, store.DispatchDispatched); err != nil {
		return WrapExitError(ExitCommandError, "failed to mark chunk dispatched", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote chunk %d (%s): %s\n", plan.ChunkID, plan.ChunkType, plan.InputPath)
	return nil
}
