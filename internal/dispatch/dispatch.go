// Package dispatch implements the dispatcher: the lifecycle controller
// that turns a scheduled chunk into a committed edit to the living docs,
// retrying the fold agent against linter feedback and recovering
// non-terminal dispatch records left behind by a crash.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rajeshgoli/engram/internal/agentexec"
	"github.com/rajeshgoli/engram/internal/chunker"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/engerr"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/linter"
	"github.com/rajeshgoli/engram/internal/store"
)

// maxRetries is the number of correction-prompt re-invocations allowed
// after the first attempt, per spec.md §4.7.
const maxRetries = 2

// Outcome is the terminal result of one dispatch() call.
type Outcome struct {
	Dispatch *store.DispatchRecord
	Plan     *chunker.Plan
}

// Dispatcher drives dispatch() and crash recovery for one project.
type Dispatcher struct {
	Store     *store.Store
	Scheduler *chunker.Scheduler
	Config    *config.Config
	Logger    *slog.Logger
}

func New(s *store.Store, scheduler *chunker.Scheduler, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Store: s, Scheduler: scheduler, Config: cfg, Logger: logger}
}

// Dispatch runs one full dispatch() operation: build a chunk, invoke the
// fold agent, lint, retry on failure up to maxRetries times, and commit
// or fail terminally.
func (d *Dispatcher) Dispatch(ctx context.Context, foldFrom string) (*Outcome, error) {
	rec, err := d.Store.BeginDispatch(ctx, "", uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("dispatch: begin: %w", err)
	}

	plan, err := d.Scheduler.BuildChunk(ctx, int(rec.ID), foldFrom)
	if err != nil {
		// The scheduler refused (lock held, or a failure mid-assembly).
		// The building record just reserved a chunk id and has no other
		// side effects; fail it terminally now rather than leaving a
		// non-terminal row that blocks every subsequent BeginDispatch
		// until a crash-recovery pass runs.
		if setErr := d.Store.SetState(ctx, rec.ID, store.DispatchFailed); setErr != nil {
			d.Logger.Warn("dispatch: failed to mark abandoned building record as failed", "id", rec.ID, "error", setErr)
		}
		return nil, err
	}

	if err := d.Store.SetArtifactPaths(ctx, rec.ID, plan.InputPath, plan.PromptPath); err != nil {
		return nil, err
	}
	if assignmentJSON, err := marshalAssignment(plan.Assignment); err == nil && assignmentJSON != "" {
		if err := d.Store.SetAssignment(ctx, rec.ID, assignmentJSON); err != nil {
			return nil, err
		}
	}
	if err := d.Store.SetState(ctx, rec.ID, store.DispatchDispatched); err != nil {
		return nil, err
	}
	rec.State = store.DispatchDispatched
	rec.InputPath, rec.PromptPath = plan.InputPath, plan.PromptPath

	return d.runUntilTerminal(ctx, rec, plan)
}

// runUntilTerminal drives a dispatched record through fold-agent
// invocation and linting, retrying with a correction prompt until it
// passes or exhausts maxRetries.
func (d *Dispatcher) runUntilTerminal(ctx context.Context, rec *store.DispatchRecord, plan *chunker.Plan) (*Outcome, error) {
	for {
		result, err := agentexec.InvokeFoldAgent(ctx, d.Config.FoldAgent.Command, d.Config.FoldAgent.Model, rec.InputPath, d.Config.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("dispatch: invoke fold agent: %w", err)
		}

		var lintResult linter.Result
		if result.ExitCode != 0 {
			lintResult = linter.Result{Pass: false, Violations: []linter.Violation{
				{Message: fmt.Sprintf("fold agent exited %d: %s", result.ExitCode, result.Stderr)},
			}}
		} else {
			lintResult, err = d.lint(ctx, rec)
			if err != nil {
				return nil, err
			}
		}

		if lintResult.Pass {
			return d.commit(ctx, rec, plan)
		}

		if rec.RetryCount >= maxRetries {
			if err := d.Store.SetState(ctx, rec.ID, store.DispatchFailed); err != nil {
				return nil, err
			}
			rec.State = store.DispatchFailed
			return &Outcome{Dispatch: rec, Plan: plan}, fmt.Errorf("dispatch: %w: %s", engerr.ErrValidation, summarizeViolations(lintResult.Violations))
		}

		if err := chunker.WriteCorrectionPrompt(d.Config, rec.ID, toCorrectionViolations(lintResult.Violations)); err != nil {
			return nil, err
		}
		count, err := d.Store.IncrementRetry(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.RetryCount = count
		rec.State = store.DispatchDispatched
	}
}

// commit performs the crash-safe staleness transition: dispatched ->
// validated, mark l0_stale, validated -> committed, clear the active
// lock. Each step is its own durable write so a crash between any two
// leaves recoverable state (see RecoverCrashed).
func (d *Dispatcher) commit(ctx context.Context, rec *store.DispatchRecord, plan *chunker.Plan) (*Outcome, error) {
	if err := d.Store.SetState(ctx, rec.ID, store.DispatchValidated); err != nil {
		return nil, err
	}
	if err := d.Store.SetL0Stale(ctx, true); err != nil {
		return nil, err
	}
	if err := d.Store.SetState(ctx, rec.ID, store.DispatchCommitted); err != nil {
		return nil, err
	}
	rec.State = store.DispatchCommitted
	if err := chunker.ClearLock(d.Config); err != nil {
		return nil, fmt.Errorf("dispatch: clear active lock: %w", err)
	}
	return &Outcome{Dispatch: rec, Plan: plan}, nil
}

func (d *Dispatcher) lint(ctx context.Context, rec *store.DispatchRecord) (linter.Result, error) {
	l, err := d.buildLinter(rec)
	if err != nil {
		return linter.Result{}, err
	}
	return l.Lint(ctx, d.absoluteDocPaths(), rec.InputPath)
}

func (d *Dispatcher) absoluteDocPaths() []string {
	paths := make([]string, 0, len(d.Config.Docs.Living)+len(d.Config.Docs.Graveyard))
	for _, p := range d.Config.Docs.Living {
		paths = append(paths, filepath.Join(d.Config.ProjectRoot, p))
	}
	for _, p := range d.Config.Docs.Graveyard {
		paths = append(paths, filepath.Join(d.Config.ProjectRoot, p))
	}
	return paths
}

func (d *Dispatcher) buildLinter(rec *store.DispatchRecord) (linter.Linter, error) {
	if len(d.Config.Linter.Command) > 0 {
		return linter.NewExternalLinter(d.Config.Linter.Command, d.Config.ProjectRoot), nil
	}
	assignment, err := unmarshalAssignment(rec.AssignmentJSON)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode pre-assigned ranges for dispatch %d: %w", rec.ID, err)
	}
	return linter.NewDefaultLinter(assignment.Concepts, assignment.Evidence, assignment.Workflows), nil
}

// RecoverCrashed walks every non-terminal dispatch record and advances
// it per spec.md §4.7's crash-recovery table. Called once on startup
// before the server loop begins polling.
func (d *Dispatcher) RecoverCrashed(ctx context.Context) error {
	pending, err := d.Store.ListNonTerminal(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		rec := pending[i]
		d.Logger.Warn("dispatch: recovering non-terminal record", "id", rec.ID, "state", rec.State, "error", engerr.ErrDispatchCrash)
		if err := d.recoverOne(ctx, &rec); err != nil {
			return fmt.Errorf("dispatch: recover %d: %w", rec.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) recoverOne(ctx context.Context, rec *store.DispatchRecord) error {
	switch rec.State {
	case store.DispatchBuilding:
		// No side effects yet; discard by marking terminal so the next
		// BeginDispatch is unblocked. The buffer still has the source
		// items, so the next scheduling pass rebuilds equivalent content.
		return d.Store.SetState(ctx, rec.ID, store.DispatchFailed)

	case store.DispatchDispatched:
		lintResult, err := d.lint(ctx, rec)
		if err != nil {
			return err
		}
		plan := &chunker.Plan{ChunkID: int(rec.ID), ChunkType: rec.ChunkType, InputPath: rec.InputPath, PromptPath: rec.PromptPath}
		if lintResult.Pass {
			_, err := d.commit(ctx, rec, plan)
			return err
		}
		if rec.RetryCount >= maxRetries {
			return d.Store.SetState(ctx, rec.ID, store.DispatchFailed)
		}
		// Budget remains: re-enter the normal retry loop, which writes the
		// correction prompt, re-invokes the fold agent, and re-lints.
		if err := chunker.WriteCorrectionPrompt(d.Config, rec.ID, toCorrectionViolations(lintResult.Violations)); err != nil {
			return err
		}
		count, err := d.Store.IncrementRetry(ctx, rec.ID)
		if err != nil {
			return err
		}
		rec.RetryCount = count
		_, err = d.runUntilTerminal(ctx, rec, plan)
		return err

	case store.DispatchValidated:
		if err := d.Store.SetL0Stale(ctx, true); err != nil {
			return err
		}
		if err := d.Store.SetState(ctx, rec.ID, store.DispatchCommitted); err != nil {
			return err
		}
		return chunker.ClearLock(d.Config)
	}
	return nil
}

func marshalAssignment(a ids.Assignment) (string, error) {
	if a.Concepts.Len() == 0 && a.Evidence.Len() == 0 && a.Workflows.Len() == 0 {
		return "", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal assignment: %w", err)
	}
	return string(data), nil
}

func unmarshalAssignment(raw string) (ids.Assignment, error) {
	if raw == "" {
		return ids.Assignment{}, nil
	}
	var a ids.Assignment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return ids.Assignment{}, err
	}
	return a, nil
}

func toCorrectionViolations(violations []linter.Violation) []chunker.CorrectionViolation {
	out := make([]chunker.CorrectionViolation, len(violations))
	for i, v := range violations {
		out[i] = chunker.CorrectionViolation{Path: v.Path, Identifier: v.Identifier, Message: v.Message}
	}
	return out
}

func summarizeViolations(violations []linter.Violation) string {
	if len(violations) == 0 {
		return "no violations recorded"
	}
	return fmt.Sprintf("%d violation(s), first: %s", len(violations), violations[0].Message)
}
