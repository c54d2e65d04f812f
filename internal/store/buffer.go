package store

import (
	"context"
	"database/sql"
	"fmt"
)

// BufferItem represents one pending artifact awaiting consumption by a
// dispatch.
type BufferItem struct {
	ID          int64
	SourcePath  string
	Kind        string // adapter kind: "document_initial" | "document_revisit" | "issue" | "session"
	SizeChars   int
	LogicalDate string // YYYY-MM-DD
	DriftType   string // optional
}

// AppendBufferItem inserts item and returns its assigned row id.
func (s *Store) AppendBufferItem(ctx context.Context, item BufferItem) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO buffer_items (source_path, kind, size_chars, logical_date, drift_type)
		VALUES (?, ?, ?, ?, ?)`,
		item.SourcePath, item.Kind, item.SizeChars, item.LogicalDate, nullIfEmpty(item.DriftType))
	if err != nil {
		return 0, fmt.Errorf("store: append buffer item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: buffer item id: %w", err)
	}
	return id, nil
}

// BufferTotalSize returns the sum of size_chars across all buffer items.
func (s *Store) BufferTotalSize(ctx context.Context) (int, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(size_chars) FROM buffer_items`).Scan(&total); err != nil {
		return 0, fmt.Errorf("store: buffer total size: %w", err)
	}
	return int(total.Int64), nil
}

// ListBufferItems returns all pending buffer items ordered by logical
// date then insertion order.
func (s *Store) ListBufferItems(ctx context.Context) ([]BufferItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, kind, size_chars, logical_date, drift_type
		FROM buffer_items ORDER BY logical_date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list buffer items: %w", err)
	}
	defer rows.Close()
	return scanBufferItems(rows)
}

// ConsumeAllBefore removes and returns every buffer item whose
// logical_date is strictly before cutoff (YYYY-MM-DD), atomically with
// the deletion.
func (s *Store) ConsumeAllBefore(ctx context.Context, cutoff string) ([]BufferItem, error) {
	var out []BufferItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, source_path, kind, size_chars, logical_date, drift_type
			FROM buffer_items WHERE logical_date < ? ORDER BY logical_date ASC, id ASC`, cutoff)
		if err != nil {
			return fmt.Errorf("store: select consume-before: %w", err)
		}
		items, err := scanBufferItems(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM buffer_items WHERE logical_date < ?`, cutoff); err != nil {
			return fmt.Errorf("store: delete consume-before: %w", err)
		}
		out = items
		return nil
	})
	return out, err
}

// ConsumeItems removes the buffer items with the given ids, atomically.
// Used when a fold chunk consumes a specific prefix of the queue that
// does not align with a single date cutoff.
func (s *Store) ConsumeItems(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM buffer_items WHERE id = ?`, id); err != nil {
				return fmt.Errorf("store: consume item %d: %w", id, err)
			}
		}
		return nil
	})
}

func scanBufferItems(rows *sql.Rows) ([]BufferItem, error) {
	var out []BufferItem
	for rows.Next() {
		var item BufferItem
		var driftType sql.NullString
		if err := rows.Scan(&item.ID, &item.SourcePath, &item.Kind, &item.SizeChars, &item.LogicalDate, &driftType); err != nil {
			return nil, fmt.Errorf("store: scan buffer item: %w", err)
		}
		item.DriftType = driftType.String
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate buffer items: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
