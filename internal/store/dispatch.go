package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rajeshgoli/engram/internal/engerr"
)

// DispatchState is one state in the dispatch lifecycle:
// building -> dispatched -> validated -> committed, with
// dispatched -> retry -> dispatched (<=2 times) and dispatched -> failed.
type DispatchState string

const (
	DispatchBuilding   DispatchState = "building"
	DispatchDispatched DispatchState = "dispatched"
	DispatchValidated  DispatchState = "validated"
	DispatchCommitted  DispatchState = "committed"
	DispatchRetry      DispatchState = "retry"
	DispatchFailed     DispatchState = "failed"
)

// Terminal reports whether s is a terminal dispatch state.
func (s DispatchState) Terminal() bool {
	return s == DispatchCommitted || s == DispatchFailed
}

// DispatchRecord is one invocation of the fold agent.
type DispatchRecord struct {
	ID             int64
	ChunkType      string
	InputPath      string
	PromptPath     string
	State          DispatchState
	RetryCount     int
	CorrelationID  string
	AssignmentJSON string // the scheduler's pre-assigned id ranges, serialized; needed to re-lint after a crash
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// chunkIDCategory is the counters row used to allocate dispatch/chunk ids.
// Chunk ids are never reused, the same monotonic discipline as C/E/W.
const chunkIDCategory = "CHUNK"

// BeginDispatch reserves the next chunk id and inserts a dispatch record
// in the building state. It fails if a non-terminal record already
// exists, preserving the at-most-one-in-flight invariant.
func (s *Store) BeginDispatch(ctx context.Context, chunkType, correlationID string) (*DispatchRecord, error) {
	var rec *DispatchRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := countNonTerminalTx(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("store: begin dispatch: a non-terminal dispatch already exists: %w", engerr.ErrAlreadyActive)
		}
		rng, err := reserveIDsTx(ctx, tx, chunkIDCategory, 1)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dispatches (id, chunk_type, state, retry_count, correlation_id, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, ?, ?)`,
			rng.Start, chunkType, string(DispatchBuilding), correlationID, now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("store: insert dispatch: %w", err)
		}
		rec = &DispatchRecord{
			ID: int64(rng.Start), ChunkType: chunkType, State: DispatchBuilding,
			CorrelationID: correlationID, CreatedAt: now, UpdatedAt: now,
		}
		return nil
	})
	return rec, err
}

// SetArtifactPaths records the chunk's input/prompt file paths once the
// scheduler has written them to disk.
func (s *Store) SetArtifactPaths(ctx context.Context, id int64, inputPath, promptPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatches SET input_path = ?, prompt_path = ?, updated_at = ? WHERE id = ?`,
		inputPath, promptPath, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set artifact paths for dispatch %d: %w", id, err)
	}
	return nil
}

// SetAssignment persists the scheduler's pre-assigned id ranges so crash
// recovery can reconstruct the default linter's expected ranges without
// re-running pre_assign.
func (s *Store) SetAssignment(ctx context.Context, id int64, assignmentJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatches SET assignment_json = ?, updated_at = ? WHERE id = ?`,
		assignmentJSON, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set assignment for dispatch %d: %w", id, err)
	}
	return nil
}

// SetState transitions dispatch id to state. Retry transitions also bump
// retry_count; callers pass the desired count via IncrementRetry.
func (s *Store) SetState(ctx context.Context, id int64, state DispatchState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatches SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("store: set state %s for dispatch %d: %w", state, id, err)
	}
	return nil
}

// IncrementRetry bumps retry_count and sets state to dispatched (the
// dispatched -> retry -> dispatched edge collapses to a single update
// since "retry" is a transient label, not a state the record rests in).
func (s *Store) IncrementRetry(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM dispatches WHERE id = ?`, id).Scan(&count); err != nil {
			return fmt.Errorf("store: read retry count for dispatch %d: %w", id, err)
		}
		count++
		_, err := tx.ExecContext(ctx, `
			UPDATE dispatches SET retry_count = ?, state = ?, updated_at = ? WHERE id = ?`,
			count, string(DispatchDispatched), time.Now().UTC().Format(time.RFC3339), id)
		if err != nil {
			return fmt.Errorf("store: increment retry for dispatch %d: %w", id, err)
		}
		return nil
	})
	return count, err
}

// GetDispatch returns the dispatch record with the given id.
func (s *Store) GetDispatch(ctx context.Context, id int64) (*DispatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chunk_type, input_path, prompt_path, state, retry_count, correlation_id, assignment_json, created_at, updated_at
		FROM dispatches WHERE id = ?`, id)
	return scanDispatchRow(row)
}

// ListNonTerminal returns dispatch records whose state is not committed
// or failed. The active-chunk lock file's presence must agree with
// len(result) <= 1 at all times; crash recovery walks this list on
// startup.
func (s *Store) ListNonTerminal(ctx context.Context) ([]DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_type, input_path, prompt_path, state, retry_count, correlation_id, assignment_json, created_at, updated_at
		FROM dispatches WHERE state NOT IN (?, ?) ORDER BY id ASC`,
		string(DispatchCommitted), string(DispatchFailed))
	if err != nil {
		return nil, fmt.Errorf("store: list non-terminal dispatches: %w", err)
	}
	defer rows.Close()
	var out []DispatchRecord
	for rows.Next() {
		rec, err := scanDispatchRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func countNonTerminalTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dispatches WHERE state NOT IN (?, ?)`,
		string(DispatchCommitted), string(DispatchFailed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count non-terminal dispatches: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDispatchRow(row *sql.Row) (*DispatchRecord, error) {
	return scanDispatch(row)
}

func scanDispatchRows(rows *sql.Rows) (*DispatchRecord, error) {
	return scanDispatch(rows)
}

func scanDispatch(row rowScanner) (*DispatchRecord, error) {
	var rec DispatchRecord
	var state string
	var created, updated string
	if err := row.Scan(&rec.ID, &rec.ChunkType, &rec.InputPath, &rec.PromptPath, &state, &rec.RetryCount, &rec.CorrelationID, &rec.AssignmentJSON, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan dispatch: %w", err)
	}
	rec.State = DispatchState(state)
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}
