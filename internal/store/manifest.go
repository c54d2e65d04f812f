package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ManifestEntry is one append-only row of the chunks manifest, keyed by
// chunk id. WorkflowRegistryHash is populated only for workflow_synthesis
// chunks and serves as the cooldown key.
type ManifestEntry struct {
	ChunkID               int64
	ChunkType             string
	WorkflowRegistryHash  string
	CreatedAt             time.Time
}

// AppendManifestEntry records a chunk's metadata permanently. Manifest
// rows are never updated or deleted.
func (s *Store) AppendManifestEntry(ctx context.Context, entry ManifestEntry) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks_manifest (chunk_id, chunk_type, workflow_registry_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.ChunkID, entry.ChunkType, nullIfEmpty(entry.WorkflowRegistryHash), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: append manifest entry %d: %w", entry.ChunkID, err)
	}
	return nil
}

// LatestManifestEntry returns the most recent manifest entry of the given
// chunk type, or nil if none exists. Used by the cooldown filter.
func (s *Store) LatestManifestEntry(ctx context.Context, chunkType string) (*ManifestEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, chunk_type, workflow_registry_hash, created_at
		FROM chunks_manifest WHERE chunk_type = ? ORDER BY chunk_id DESC LIMIT 1`, chunkType)
	var entry ManifestEntry
	var hash sql.NullString
	var created string
	if err := row.Scan(&entry.ChunkID, &entry.ChunkType, &hash, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest manifest entry %s: %w", chunkType, err)
	}
	entry.WorkflowRegistryHash = hash.String
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		entry.CreatedAt = t
	}
	return &entry, nil
}
