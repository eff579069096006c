// Package store holds the pgx repositories behind the replication
// engine: version metadata, the outbound queues, the conflict log,
// peer sessions, the processed-message ledger, and dead letters.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sync status values for sync_metadata rows.
const (
	StatusPending  = "pending"
	StatusSynced   = "synced"
	StatusConflict = "conflict"
)

// Metadata is one sync_metadata row: the per-entity version counter and
// sync state.
type Metadata struct {
	ContentType        string
	EntityID           string
	SyncVersion        int64
	ModifiedByLocation string
	LastSyncedAt       *time.Time
	SyncStatus         string
	ConflictFlag       bool
}

// MetadataStore tracks per-entity sync versions.
type MetadataStore struct {
	DB *pgxpool.Pool
}

// NewMetadataStore creates a MetadataStore over the given pool.
func NewMetadataStore(db *pgxpool.Pool) *MetadataStore {
	return &MetadataStore{DB: db}
}

// IncrementVersion atomically bumps the entity's version, initializing to
// 1 if the row is absent, records the modifying peer, and flips the row
// back to pending. Returns the new version.
func (s *MetadataStore) IncrementVersion(ctx context.Context, contentType, entityID, peerID string) (int64, error) {
	var version int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO sync_metadata (content_type, entity_id, sync_version, modified_by_location, sync_status)
		VALUES ($1, $2, 1, $3, 'pending')
		ON CONFLICT (content_type, entity_id) DO UPDATE SET
			sync_version         = sync_metadata.sync_version + 1,
			modified_by_location = EXCLUDED.modified_by_location,
			sync_status          = 'pending'
		RETURNING sync_version
	`, contentType, entityID, peerID).Scan(&version)
	return version, err
}

// Get returns the metadata row, or (nil, nil) if the entity has never
// been touched by sync.
func (s *MetadataStore) Get(ctx context.Context, contentType, entityID string) (*Metadata, error) {
	m := &Metadata{ContentType: contentType, EntityID: entityID}
	err := s.DB.QueryRow(ctx, `
		SELECT sync_version, modified_by_location, last_synced_at, sync_status, conflict_flag
		FROM sync_metadata
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID).Scan(
		&m.SyncVersion, &m.ModifiedByLocation, &m.LastSyncedAt, &m.SyncStatus, &m.ConflictFlag,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MarkSynced clears the conflict flag and stamps the row synced.
func (s *MetadataStore) MarkSynced(ctx context.Context, contentType, entityID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sync_metadata
		SET sync_status = 'synced', conflict_flag = false, last_synced_at = now()
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID)
	return err
}

// MarkConflict flags the row as conflicted until a human resolves it.
func (s *MetadataStore) MarkConflict(ctx context.Context, contentType, entityID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sync_metadata
		SET sync_status = 'conflict', conflict_flag = true
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID)
	return err
}

// Purge removes the metadata row after the entity itself is deleted.
func (s *MetadataStore) Purge(ctx context.Context, contentType, entityID string) error {
	_, err := s.DB.Exec(ctx, `
		DELETE FROM sync_metadata
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID)
	return err
}
