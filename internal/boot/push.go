package boot

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// PendingSource is the queue surface the pusher drains.
type PendingSource interface {
	GetPending(ctx context.Context, limit int) ([]store.Entry, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, sendErr string, maxRetries int) error
}

// MediaPreparer uploads locally-referenced objects before a push and
// rewrites payload URLs to master form.
type MediaPreparer interface {
	PrepareForPush(ctx context.Context, data map[string]any) (map[string]any, []syncx.FileRecord)
}

// Pusher drains a durable queue onto the bus. Shared by both modes:
// replicas drain the outbound queue to the master, the master drains
// the broadcast queue to the ships.
type Pusher struct {
	Queue PendingSource
	Send  func(ctx context.Context, msg *syncx.Message) error
	Media MediaPreparer // nil when media replication is disabled

	PeerID     string
	BatchSize  int
	MaxRetries int
}

// Drain sends one batch of pending entries, oldest first. A send
// failure stops the batch: per-key ordering would break if later
// entries overtook a failed one.
func (p *Pusher) Drain(ctx context.Context) (sent int, err error) {
	entries, err := p.Queue.GetPending(ctx, p.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, e := range entries {
		msg := p.message(ctx, e)
		if err := p.Send(ctx, msg); err != nil {
			log.Warn().Err(err).
				Str("content_id", e.ContentID).
				Int("retry_count", e.RetryCount).
				Msg("queue push failed, stopping batch")
			if markErr := p.Queue.MarkFailed(ctx, e.ID, err.Error(), p.MaxRetries); markErr != nil {
				return sent, markErr
			}
			return sent, err
		}
		if err := p.Queue.MarkSynced(ctx, e.ID); err != nil {
			return sent, err
		}
		sent++
	}

	log.Info().Int("sent", sent).Msg("queue drained")
	return sent, nil
}

func (p *Pusher) message(ctx context.Context, e store.Entry) *syncx.Message {
	data := e.Data
	var records []syncx.FileRecord
	if p.Media != nil && data != nil && e.Operation != syncx.OpDelete {
		data, records = p.Media.PrepareForPush(ctx, data)
	}

	return &syncx.Message{
		MessageID:   syncx.NewMessageID(p.PeerID, e.ContentID),
		ShipID:      e.ShipID,
		Timestamp:   syncx.RFC3339(syncx.NowMs()),
		Operation:   e.Operation,
		ContentType: e.ContentType,
		ContentID:   e.ContentID,
		Version:     e.LocalVersion,
		Data:        data,
		Locale:      e.Locale,
		FileRecords: records,
	}
}
