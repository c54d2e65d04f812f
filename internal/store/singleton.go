package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SingletonState is the one-row record of server-wide state.
type SingletonState struct {
	LastPollCommit    string
	LastDispatchTime  *time.Time
	BufferTotalChars  int
	FoldFrom          *string // YYYY-MM-DD, nil means unset
	L0Stale           bool
	LastL0RegenTime   *time.Time
}

// GetSingleton returns the current singleton row.
func (s *Store) GetSingleton(ctx context.Context) (*SingletonState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_poll_commit, last_dispatch_time, buffer_total_chars, fold_from, l0_stale, last_l0_regen_time
		FROM singleton WHERE id = 1`)
	var st SingletonState
	var lastPoll, foldFrom sql.NullString
	var lastDispatch, lastL0 sql.NullString
	var l0Stale int
	if err := row.Scan(&lastPoll, &lastDispatch, &st.BufferTotalChars, &foldFrom, &l0Stale, &lastL0); err != nil {
		return nil, fmt.Errorf("store: get singleton: %w", err)
	}
	st.LastPollCommit = lastPoll.String
	st.L0Stale = l0Stale != 0
	if foldFrom.Valid {
		v := foldFrom.String
		st.FoldFrom = &v
	}
	if t, err := time.Parse(time.RFC3339, lastDispatch.String); err == nil {
		st.LastDispatchTime = &t
	}
	if t, err := time.Parse(time.RFC3339, lastL0.String); err == nil {
		st.LastL0RegenTime = &t
	}
	return &st, nil
}

// SetFoldFrom sets or clears (date == nil) the fold_from marker.
func (s *Store) SetFoldFrom(ctx context.Context, date *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET fold_from = ? WHERE id = 1`, nullableFromPtr(date))
	if err != nil {
		return fmt.Errorf("store: set fold_from: %w", err)
	}
	return nil
}

// SetL0Stale sets the l0_stale flag. Callers enforce the crash-safe
// ordering invariant: whenever a dispatch transitions validated ->
// committed, SetL0Stale(true) must be called and its transaction
// committed before the committed transition is recorded, so a crash in
// between leaves a recoverable dispatch whose staleness flag is already
// set.
func (s *Store) SetL0Stale(ctx context.Context, stale bool) error {
	v := 0
	if stale {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET l0_stale = ? WHERE id = 1`, v)
	if err != nil {
		return fmt.Errorf("store: set l0_stale: %w", err)
	}
	return nil
}

// SetLastL0RegenTime records the most recent successful L0 regeneration.
func (s *Store) SetLastL0RegenTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET last_l0_regen_time = ? WHERE id = 1`, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set last_l0_regen_time: %w", err)
	}
	return nil
}

// SetLastPollCommit records the last commit hash observed by the server
// loop's git-log poll.
func (s *Store) SetLastPollCommit(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET last_poll_commit = ? WHERE id = 1`, hash)
	if err != nil {
		return fmt.Errorf("store: set last_poll_commit: %w", err)
	}
	return nil
}

// SetLastDispatchTime records the most recent dispatch invocation time.
func (s *Store) SetLastDispatchTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET last_dispatch_time = ? WHERE id = 1`, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set last_dispatch_time: %w", err)
	}
	return nil
}

// SetBufferTotalChars records the buffer's aggregate size. The server
// loop keeps this in sync with the buffer table after every poll so
// `status` and the dispatch threshold check don't need to re-sum on
// every call.
func (s *Store) SetBufferTotalChars(ctx context.Context, total int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE singleton SET buffer_total_chars = ? WHERE id = 1`, total)
	if err != nil {
		return fmt.Errorf("store: set buffer_total_chars: %w", err)
	}
	return nil
}

func nullableFromPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
