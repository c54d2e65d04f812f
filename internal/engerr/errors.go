// Package engerr defines the sentinel error kinds shared across engram's
// pipeline. Callers wrap these with context via fmt.Errorf("...: %w", err)
// and branch on kind with errors.Is.
package engerr

import "errors"

var (
	// ErrValidation marks a schema-linter failure over living/graveyard docs.
	ErrValidation = errors.New("schema validation failed")

	// ErrSizeGuard marks a produced diff exceeding the expected growth bound.
	ErrSizeGuard = errors.New("chunk diff exceeded size guard")

	// ErrAgentInvocation marks a fold-agent subprocess that exited non-zero
	// or produced no edits. Treated identically to ErrValidation by callers.
	ErrAgentInvocation = errors.New("fold agent invocation failed")

	// ErrBudgetExceeded marks a chunk that exceeds max_chunk_chars even
	// after trimming.
	ErrBudgetExceeded = errors.New("chunk exceeds configured budget")

	// ErrInvalidStartDate marks a start-date argument that is not a bare
	// YYYY-MM-DD string.
	ErrInvalidStartDate = errors.New("start date must be YYYY-MM-DD")

	// ErrGitResolution marks a failure to resolve fold_from to a commit.
	ErrGitResolution = errors.New("could not resolve fold_from to a commit")

	// ErrLockHeld marks refusal to produce a new chunk while the
	// active-chunk lock file exists.
	ErrLockHeld = errors.New("active chunk lock is held")

	// ErrLegacySchema marks detection of a pre-migration singleton table
	// shape. Callers treat this as informational, not fatal.
	ErrLegacySchema = errors.New("legacy singleton schema detected")

	// ErrDispatchCrash marks recovery of a non-terminal dispatch record
	// found on startup.
	ErrDispatchCrash = errors.New("non-terminal dispatch record recovered")

	// ErrNotFound is returned by store lookups that find no matching row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyActive is returned when a chunk is requested while the
	// active-chunk lock is held. Equivalent in meaning to ErrLockHeld but
	// named for the scheduler's EAlreadyActive contract.
	ErrAlreadyActive = ErrLockHeld
)
