package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Queue names. Both modes persist outbound work in the same table,
// discriminated by this column: replicas queue local edits pending push,
// the master queues broadcasts while the bus is down.
const (
	QueueOutbound  = "outbound"
	QueueBroadcast = "broadcast"
)

// Queue entry status values.
const (
	EntryPending = "pending"
	EntrySent    = "sent"
	EntryFailed  = "failed"
)

// Entry is one queued edit awaiting publication.
type Entry struct {
	ID           int64
	ShipID       string
	ContentType  string
	ContentID    string
	Operation    string
	LocalVersion int64
	Data         map[string]any
	Locale       *string
	Status       string
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	SentAt       *time.Time
}

// QueueStats summarizes a queue for the status endpoint.
type QueueStats struct {
	Pending       int64      `json:"pending"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldestPending,omitempty"`
}

// QueueStore is a durable coalescing FIFO. Its contract: at most one
// pending entry exists per (contentType, contentId, locale); enqueueing
// over a pending entry overwrites its payload, operation, and version
// and resets the retry count, so rapid successive edits collapse into
// one outbound message and per-key ordering holds by construction.
type QueueStore struct {
	DB    *pgxpool.Pool
	Queue string
}

// NewQueueStore creates a store bound to one queue name.
func NewQueueStore(db *pgxpool.Pool, queue string) *QueueStore {
	return &QueueStore{DB: db, Queue: queue}
}

// Enqueue inserts the entry, or collapses it into the existing pending
// entry for the same key.
func (s *QueueStore) Enqueue(ctx context.Context, e Entry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sync_queue
			(queue, ship_id, content_type, content_id, operation, local_version, data, locale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (queue, content_type, content_id, COALESCE(locale, '')) WHERE status = 'pending'
		DO UPDATE SET
			operation     = EXCLUDED.operation,
			local_version = EXCLUDED.local_version,
			data          = EXCLUDED.data,
			retry_count   = 0,
			error_message = NULL
	`, s.Queue, e.ShipID, e.ContentType, e.ContentID, e.Operation, e.LocalVersion, e.Data, e.Locale)
	return err
}

// GetPending returns pending entries oldest first, capped at limit.
func (s *QueueStore) GetPending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, ship_id, content_type, content_id, operation, local_version,
		       data, locale, status, retry_count, error_message, created_at, sent_at
		FROM sync_queue
		WHERE queue = $1 AND status = 'pending'
		ORDER BY created_at, id
		LIMIT $2
	`, s.Queue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ShipID, &e.ContentType, &e.ContentID,
			&e.Operation, &e.LocalVersion, &e.Data, &e.Locale, &e.Status,
			&e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSynced flips an entry to sent.
func (s *QueueStore) MarkSynced(ctx context.Context, id int64) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'sent', sent_at = now()
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed records a send failure. The entry stays pending until the
// retry budget is spent, then moves to failed.
func (s *QueueStore) MarkFailed(ctx context.Context, id int64, sendErr string, maxRetries int) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sync_queue
		SET retry_count   = retry_count + 1,
		    error_message = $2,
		    status        = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1
	`, id, sendErr, maxRetries)
	return err
}

// RetryFailed moves failed entries whose retry count is below the cap
// back to pending; returns the number revived.
func (s *QueueStore) RetryFailed(ctx context.Context, maxRetries int) (int64, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'pending', error_message = NULL
		WHERE queue = $1 AND status = 'failed' AND retry_count < $2
	`, s.Queue, maxRetries)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneSent removes sent entries older than the retention window.
func (s *QueueStore) PruneSent(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE queue = $1 AND status = 'sent' AND sent_at < $2
	`, s.Queue, cutoff)
	if err != nil {
		return 0, err
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Debug().Str("queue", s.Queue).Int64("pruned", n).Msg("pruned sent queue entries")
		return n, nil
	}
	return 0, nil
}

// Stats counts pending and failed entries and reports the oldest
// pending timestamp.
func (s *QueueStore) Stats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	err := s.DB.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'failed'),
			min(created_at) FILTER (WHERE status = 'pending')
		FROM sync_queue
		WHERE queue = $1
	`, s.Queue).Scan(&st.Pending, &st.Failed, &st.OldestPending)
	return st, err
}
