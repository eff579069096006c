package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DedupStore is the processed-message ledger that turns the bus's
// at-least-once delivery into effectively-once processing.
type DedupStore struct {
	DB *pgxpool.Pool
}

// NewDedupStore creates a DedupStore over the given pool.
func NewDedupStore(db *pgxpool.Pool) *DedupStore {
	return &DedupStore{DB: db}
}

// Seen reports whether the message id has already been processed.
func (s *DedupStore) Seen(ctx context.Context, messageID string) (bool, error) {
	var seen bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_message WHERE message_id = $1)`,
		messageID).Scan(&seen)
	return seen, err
}

// Record marks the message id processed. Idempotent; recording the same
// id twice is a no-op.
func (s *DedupStore) Record(ctx context.Context, messageID string) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO processed_message (message_id)
		VALUES ($1)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID)
	return err
}

// Prune removes ledger entries older than the retention window.
func (s *DedupStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.DB.Exec(ctx,
		`DELETE FROM processed_message WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Debug().Int64("pruned", n).Msg("pruned processed-message ledger")
		return n, nil
	}
	return 0, nil
}
