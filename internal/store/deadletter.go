package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Letter is one quarantined message.
type Letter struct {
	ID         int64           `json:"id"`
	MessageID  string          `json:"messageId"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
	CreatedAt  time.Time       `json:"createdAt"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}

// DeadLetterStore quarantines messages the apply path could not process.
type DeadLetterStore struct {
	DB *pgxpool.Pool
}

// NewDeadLetterStore creates a DeadLetterStore over the given pool.
func NewDeadLetterStore(db *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{DB: db}
}

// Append quarantines a message with the failure reason.
func (s *DeadLetterStore) Append(ctx context.Context, messageID string, payload []byte, reason string) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO dead_letter (message_id, payload, reason)
		VALUES ($1, $2, $3)
	`, messageID, payload, reason)
	if err == nil {
		log.Warn().Str("message_id", messageID).Str("reason", reason).Msg("message dead-lettered")
	}
	return err
}

// Get returns one letter by id, or (nil, nil) if absent.
func (s *DeadLetterStore) Get(ctx context.Context, id int64) (*Letter, error) {
	l := &Letter{}
	err := s.DB.QueryRow(ctx, `
		SELECT id, message_id, payload, reason, created_at, resolved_at
		FROM dead_letter
		WHERE id = $1
	`, id).Scan(&l.ID, &l.MessageID, &l.Payload, &l.Reason, &l.CreatedAt, &l.ResolvedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// List returns letters, unresolved first, newest within each group.
func (s *DeadLetterStore) List(ctx context.Context, limit int, unresolvedOnly bool) ([]Letter, error) {
	query := `
		SELECT id, message_id, payload, reason, created_at, resolved_at
		FROM dead_letter
	`
	if unresolvedOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY resolved_at IS NOT NULL, created_at DESC LIMIT $1`

	rows, err := s.DB.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Letter
	for rows.Next() {
		var l Letter
		if err := rows.Scan(&l.ID, &l.MessageID, &l.Payload, &l.Reason, &l.CreatedAt, &l.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkResolved stamps the letter, whether it was requeued or discarded.
func (s *DeadLetterStore) MarkResolved(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx,
		`UPDATE dead_letter SET resolved_at = now() WHERE id = $1`, id)
	return err
}

// PruneResolved removes resolved letters older than the retention window.
func (s *DeadLetterStore) PruneResolved(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.DB.Exec(ctx,
		`DELETE FROM dead_letter WHERE resolved_at IS NOT NULL AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
