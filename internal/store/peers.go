package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Sync outcome values for peer sessions.
const (
	SyncSuccess = "success"
	SyncPartial = "partial"
	SyncFailed  = "failed"
)

// Session is one peer_session row on the master.
type Session struct {
	PeerID         string         `json:"peerId"`
	LastSeenAt     time.Time      `json:"lastSeenAt"`
	IsOnline       bool           `json:"isOnline"`
	LastSyncAt     *time.Time     `json:"lastSyncAt,omitempty"`
	LastSyncStatus *string        `json:"lastSyncStatus,omitempty"`
	TotalSyncs     int64          `json:"totalSyncs"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PeerStore tracks per-peer liveness on the master. A peer is online iff
// now - lastSeenAt < threshold.
type PeerStore struct {
	DB        *pgxpool.Pool
	Threshold time.Duration
}

// NewPeerStore creates a PeerStore with the given online threshold.
func NewPeerStore(db *pgxpool.Pool, threshold time.Duration) *PeerStore {
	return &PeerStore{DB: db, Threshold: threshold}
}

// RecordActivity upserts a session on any sign of life from the peer.
func (s *PeerStore) RecordActivity(ctx context.Context, peerID string, metadata map[string]any) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO peer_session (peer_id, last_seen_at, is_online, metadata)
		VALUES ($1, now(), true, $2)
		ON CONFLICT (peer_id) DO UPDATE SET
			last_seen_at = now(),
			is_online    = true,
			metadata     = COALESCE(EXCLUDED.metadata, peer_session.metadata)
	`, peerID, metadata)
	return err
}

// UpdateSyncStatus advances the sync counters after a batch from the peer.
func (s *PeerStore) UpdateSyncStatus(ctx context.Context, peerID, outcome string, count int64) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE peer_session
		SET last_sync_at = now(), last_sync_status = $2, total_syncs = total_syncs + $3
		WHERE peer_id = $1
	`, peerID, outcome, count)
	return err
}

// Get returns the session with is_online recomputed from last_seen_at.
// A stale session observed here is flipped offline in place.
func (s *PeerStore) Get(ctx context.Context, peerID string) (*Session, error) {
	sess, err := s.scanOne(ctx, peerID)
	if err != nil || sess == nil {
		return sess, err
	}

	online := time.Since(sess.LastSeenAt) < s.Threshold
	if online != sess.IsOnline {
		if _, err := s.DB.Exec(ctx,
			`UPDATE peer_session SET is_online = $2 WHERE peer_id = $1`, peerID, online); err != nil {
			return nil, err
		}
		sess.IsOnline = online
		log.Info().Str("peer_id", peerID).Bool("online", online).Msg("peer liveness transition")
	}
	return sess, nil
}

func (s *PeerStore) scanOne(ctx context.Context, peerID string) (*Session, error) {
	sess := &Session{}
	err := s.DB.QueryRow(ctx, `
		SELECT peer_id, last_seen_at, is_online, last_sync_at, last_sync_status, total_syncs, metadata
		FROM peer_session
		WHERE peer_id = $1
	`, peerID).Scan(&sess.PeerID, &sess.LastSeenAt, &sess.IsOnline,
		&sess.LastSyncAt, &sess.LastSyncStatus, &sess.TotalSyncs, &sess.Metadata)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns all sessions with is_online recomputed (not persisted;
// the janitor handles bulk transitions).
func (s *PeerStore) List(ctx context.Context) ([]Session, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT peer_id, last_seen_at, is_online, last_sync_at, last_sync_status, total_syncs, metadata
		FROM peer_session
		ORDER BY peer_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.PeerID, &sess.LastSeenAt, &sess.IsOnline,
			&sess.LastSyncAt, &sess.LastSyncStatus, &sess.TotalSyncs, &sess.Metadata); err != nil {
			return nil, err
		}
		sess.IsOnline = time.Since(sess.LastSeenAt) < s.Threshold
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkOfflinePeers flips every stale session offline; returns how many
// transitioned. Run from the janitor.
func (s *PeerStore) MarkOfflinePeers(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.Threshold)
	tag, err := s.DB.Exec(ctx, `
		UPDATE peer_session
		SET is_online = false
		WHERE is_online = true AND last_seen_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Info().Int64("peers", n).Msg("marked stale peers offline")
		return n, nil
	}
	return 0, nil
}
