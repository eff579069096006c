package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/engine"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// Applier is the apply path the consumer dispatches content messages to.
type Applier interface {
	Apply(ctx context.Context, msg *syncx.Message) error
}

// Deduper is the processed-message ledger.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, messageID string) error
}

// DeadLetterer quarantines messages the apply path cannot process.
type DeadLetterer interface {
	Append(ctx context.Context, messageID string, payload []byte, reason string) error
}

// PeerTracker receives liveness signals. Only set on the master.
type PeerTracker interface {
	RecordActivity(ctx context.Context, peerID string, metadata map[string]any) error
}

// Consumer subscribes to the opposite direction's topic: the master
// consumes ship-updates, replicas consume master-updates. Offsets are
// committed only after a message is applied or dead-lettered, giving
// at-least-once delivery; the deduplicator upgrades that to
// effectively-once processing.
type Consumer struct {
	cfg    config.Bus
	topic  string
	group  string
	origin syncx.Origin

	Applier     Applier
	Dedup       Deduper
	DeadLetters DeadLetterer
	Peers       PeerTracker // nil on replicas

	retryDelay time.Duration
	client     *kgo.Client
}

// NewConsumer builds an unconnected consumer for the given topic. The
// origin tags every apply this consumer triggers, which is what keeps
// echoed edits from re-entering the outbound queue.
func NewConsumer(cfg config.Bus, topic, group string, origin syncx.Origin, retryDelay time.Duration) *Consumer {
	return &Consumer{
		cfg:        cfg,
		topic:      topic,
		group:      group,
		origin:     origin,
		retryDelay: retryDelay,
	}
}

// Connect joins the consumer group.
func (c *Consumer) Connect(ctx context.Context) error {
	opts := append(clientOpts(c.cfg),
		kgo.ConsumeTopics(c.topic),
		kgo.ConsumerGroup(c.group),
		kgo.DisableAutoCommit(),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("create consumer client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return fmt.Errorf("ping brokers: %w", err)
	}

	c.client = client
	log.Info().Str("topic", c.topic).Str("group", c.group).Msg("bus consumer connected")
	return nil
}

// Close leaves the group.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Run polls until the context is cancelled. Records are handled in
// order; a transient failure stops the batch without committing, so the
// failed record is redelivered after the retry delay.
func (c *Consumer) Run(ctx context.Context) error {
	if c.client == nil {
		return errors.New("consumer not connected")
	}

	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if fetches.IsClientClosed() {
			return errors.New("consumer client closed")
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		var done []*kgo.Record
		transient := false
		fetches.EachRecord(func(rec *kgo.Record) {
			if transient {
				return
			}
			if err := c.handle(ctx, rec.Value); err != nil {
				log.Error().Err(err).Msg("transient apply failure, pausing consumption")
				transient = true
				return
			}
			done = append(done, rec)
		})

		if len(done) > 0 {
			if err := c.client.CommitRecords(ctx, done...); err != nil {
				log.Error().Err(err).Msg("offset commit failed")
			}
		}
		if transient {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handle processes one raw record. A nil return acknowledges the
// message; an error means a transient failure that must be redelivered.
func (c *Consumer) handle(ctx context.Context, raw []byte) error {
	var msg syncx.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		// Not JSON at all; quarantine and move on
		return c.DeadLetters.Append(ctx, "", raw, fmt.Sprintf("malformed message: %v", err))
	}

	if err := msg.Validate(); err != nil {
		return c.DeadLetters.Append(ctx, msg.MessageID, raw, fmt.Sprintf("invalid envelope: %v", err))
	}

	if c.Peers != nil {
		if err := c.Peers.RecordActivity(ctx, msg.ShipID, nil); err != nil {
			return fmt.Errorf("record peer activity: %w", err)
		}
	}
	if msg.Operation == syncx.OpHeartbeat {
		return nil
	}

	seen, err := c.Dedup.Seen(ctx, msg.MessageID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		log.Debug().Str("message_id", msg.MessageID).Msg("duplicate delivery dropped")
		return nil
	}

	// Origin is scoped to this one apply; the lifecycle interceptor
	// reads it to avoid echoing the edit back onto the bus.
	applyCtx := syncx.WithOrigin(ctx, c.origin)
	err = c.Applier.Apply(applyCtx, &msg)

	switch {
	case err == nil, errors.Is(err, engine.ErrConflict):
		// Conflicts are handled outcomes: logged, awaiting resolution
		return c.Dedup.Record(ctx, msg.MessageID)
	case errors.Is(err, engine.ErrUnknownContentType):
		if dlErr := c.DeadLetters.Append(ctx, msg.MessageID, raw, err.Error()); dlErr != nil {
			return dlErr
		}
		return c.Dedup.Record(ctx, msg.MessageID)
	default:
		return err
	}
}
