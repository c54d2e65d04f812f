package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IDRange is a half-open range [Start, End) of reserved identifiers.
type IDRange struct {
	Start int
	End   int
}

// Len returns the number of identifiers in the range.
func (r IDRange) Len() int { return r.End - r.Start }

// ReserveIDs atomically reads category's counter, returns the range
// [next_id, next_id+k), and bumps next_id by k. Tolerates concurrent
// callers via the transaction, though engram's design has a single
// writer in practice.
func (s *Store) ReserveIDs(ctx context.Context, category string, k int) (IDRange, error) {
	if k <= 0 {
		return IDRange{}, fmt.Errorf("store: reserve %s: k must be positive, got %d", category, k)
	}
	var out IDRange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		next, err := reserveIDsTx(ctx, tx, category, k)
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// BumpCounterFloor guarantees next_id >= max(minNext, current next_id)
// for category, i.e. sets next_id to minNext if the counter currently
// lags behind. This is used before every reservation to tolerate a
// counter drifting out of sync with the living docs (e.g. after an
// external hand-edit added an identifier the counter never saw).
func (s *Store) BumpCounterFloor(ctx context.Context, category string, minNext int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return bumpCounterFloorTx(ctx, tx, category, minNext)
	})
}

// ReserveIDsWithFloor combines BumpCounterFloor and ReserveIDs in a single
// transaction, matching spec.md's requirement that the floor bump and the
// reservation it guards are transactional together.
func (s *Store) ReserveIDsWithFloor(ctx context.Context, category string, minNext, k int) (IDRange, error) {
	if k <= 0 {
		return IDRange{}, fmt.Errorf("store: reserve-with-floor %s: k must be positive, got %d", category, k)
	}
	var out IDRange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := bumpCounterFloorTx(ctx, tx, category, minNext); err != nil {
			return err
		}
		next, err := reserveIDsTx(ctx, tx, category, k)
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func reserveIDsTx(ctx context.Context, tx *sql.Tx, category string, k int) (IDRange, error) {
	if err := ensureCounterRowTx(ctx, tx, category); err != nil {
		return IDRange{}, err
	}
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM counters WHERE category = ?`, category).Scan(&next); err != nil {
		return IDRange{}, fmt.Errorf("store: read counter %s: %w", category, err)
	}
	rng := IDRange{Start: next, End: next + k}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET next_id = ? WHERE category = ?`, rng.End, category); err != nil {
		return IDRange{}, fmt.Errorf("store: bump counter %s: %w", category, err)
	}
	return rng, nil
}

func bumpCounterFloorTx(ctx context.Context, tx *sql.Tx, category string, minNext int) error {
	if err := ensureCounterRowTx(ctx, tx, category); err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM counters WHERE category = ?`, category).Scan(&next); err != nil {
		return fmt.Errorf("store: read counter %s: %w", category, err)
	}
	if minNext <= next {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET next_id = ? WHERE category = ?`, minNext, category); err != nil {
		return fmt.Errorf("store: bump counter floor %s: %w", category, err)
	}
	return nil
}

func ensureCounterRowTx(ctx context.Context, tx *sql.Tx, category string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO counters (category, next_id) VALUES (?, 1)`, category)
	if err != nil {
		return fmt.Errorf("store: ensure counter row %s: %w", category, err)
	}
	return nil
}

// PeekCounter returns category's current next_id without reserving
// anything. Used by `status` and by tests.
func (s *Store) PeekCounter(ctx context.Context, category string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `SELECT next_id FROM counters WHERE category = ?`, category).Scan(&next)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: peek counter %s: %w", category, err)
	}
	return next, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
