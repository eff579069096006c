// Package bus carries SyncMessages over Kafka: master-updates flows
// shore to ships, ship-updates flows ships to shore.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/syncx"
)

const connectTimeout = 60 * time.Second

// Producer publishes to the two topics. It connects lazily: construction
// never touches the network, Connect does, and IsConnected reflects the
// last known state without blocking.
type Producer struct {
	cfg    config.Bus
	peerID string

	mu        sync.Mutex
	client    *kgo.Client
	connected atomic.Bool
}

// NewProducer builds an unconnected producer.
func NewProducer(cfg config.Bus, peerID string) *Producer {
	return &Producer{cfg: cfg, peerID: peerID}
}

func clientOpts(cfg config.Bus) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if cfg.SASLUser != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.SASLUser,
			Pass: cfg.SASLPassword,
		}.AsMechanism()))
	}
	return opts
}

// Connect dials the brokers and verifies them with a bounded ping.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		client, err := kgo.NewClient(clientOpts(p.cfg)...)
		if err != nil {
			return fmt.Errorf("create kafka client: %w", err)
		}
		p.client = client
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := p.client.Ping(pingCtx); err != nil {
		p.connected.Store(false)
		return fmt.Errorf("ping brokers: %w", err)
	}

	p.connected.Store(true)
	log.Info().Strs("brokers", p.cfg.Brokers).Msg("bus producer connected")
	return nil
}

// Close tears the client down.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	p.connected.Store(false)
}

// IsConnected reflects the last known connection state. Non-blocking.
func (p *Producer) IsConnected() bool {
	return p.connected.Load()
}

// Ping re-probes the brokers with a short deadline, updating the
// connection state. Used by the connectivity monitor.
func (p *Producer) Ping(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return fmt.Errorf("producer not connected")
	}
	err := client.Ping(ctx)
	p.connected.Store(err == nil)
	return err
}

// SendToShips publishes a master broadcast to master-updates.
func (p *Producer) SendToShips(ctx context.Context, msg *syncx.Message) error {
	return p.produce(ctx, p.cfg.Topics.MasterUpdates, msg)
}

// SendToMaster publishes a replica edit to ship-updates.
func (p *Producer) SendToMaster(ctx context.Context, msg *syncx.Message) error {
	return p.produce(ctx, p.cfg.Topics.ShipUpdates, msg)
}

// SendHeartbeat publishes a liveness message keyed by this peer.
func (p *Producer) SendHeartbeat(ctx context.Context) error {
	return p.produce(ctx, p.cfg.Topics.ShipUpdates, syncx.Heartbeat(p.peerID))
}

func (p *Producer) produce(ctx context.Context, topic string, msg *syncx.Message) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !p.connected.Load() {
		return fmt.Errorf("bus producer disconnected")
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	// Key by contentId so edits to one entity stay on one partition
	key := msg.ContentID
	if key == "" {
		key = msg.ShipID
	}

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.connected.Store(false)
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	log.Debug().
		Str("topic", topic).
		Str("message_id", msg.MessageID).
		Str("operation", msg.Operation).
		Msg("message published")
	return nil
}
