// Package boot assembles the sync runtime: bus connection management,
// the background worker loops, and periodic maintenance.
package boot

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/shorelink/fleetsync/internal/bus"
	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/media"
	"github.com/shorelink/fleetsync/internal/monitor"
	"github.com/shorelink/fleetsync/internal/store"
)

const (
	connectInitialInterval = 2 * time.Second
	connectMultiplier      = 1.5
	connectMaxInterval     = 30 * time.Second
	connectMaxRetries      = 10
	offlineRetryInterval   = 30 * time.Second

	// After a reconnect signal the link must hold this long before the
	// queue drains, so a flapping connection does not trigger
	// half-delivered batches.
	reconnectStabilization = 3 * time.Second

	janitorInterval = 5 * time.Minute
)

// Runtime owns the long-running sync workers for one deployment.
type Runtime struct {
	Cfg      *config.Config
	Producer *bus.Producer
	Consumer *bus.Consumer
	Monitor  *monitor.Monitor
	Pusher   *Pusher

	Queue       *store.QueueStore
	Peers       *store.PeerStore // nil on replicas
	Dedup       *store.DedupStore
	DeadLetters *store.DeadLetterStore
	Media       *media.Mirror // nil when media replication is disabled

	debounceOnce sync.Once
	debounce     *Debouncer
	fullSyncOnce sync.Once
}

func (r *Runtime) debouncer() *Debouncer {
	r.debounceOnce.Do(func() {
		r.debounce = NewDebouncer(r.Cfg.Debounce(), r.drainIfConnected)
	})
	return r.debounce
}

// Notify pokes the debounced pusher. Wired into the lifecycle
// interceptor; safe to call before Run.
func (r *Runtime) Notify() {
	r.debouncer().Notify()
}

// Run starts every worker and blocks until the context is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	r.Monitor.OnReconnect(r.onReconnect)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.Monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return r.busLoop(ctx)
	})
	g.Go(func() error {
		r.debouncer().Run(ctx)
		return nil
	})
	g.Go(func() error {
		r.tickerLoop(ctx, r.Cfg.AutoPushInterval(), r.drainIfConnected)
		return nil
	})
	g.Go(func() error {
		r.tickerLoop(ctx, janitorInterval, r.janitor)
		return nil
	})
	if r.Cfg.Mode == config.ModeReplica {
		g.Go(func() error {
			r.tickerLoop(ctx, r.Cfg.HeartbeatInterval(), r.heartbeat)
			return nil
		})
	}

	log.Info().Str("mode", string(r.Cfg.Mode)).Str("peer_id", r.Cfg.PeerID()).Msg("sync runtime started")
	return g.Wait()
}

// busLoop keeps the bus side alive: connect with backoff, bootstrap,
// consume; on consumer failure, cycle back to connecting.
func (r *Runtime) busLoop(ctx context.Context) error {
	for {
		if err := r.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Dur("retry_in", offlineRetryInterval).
				Msg("bus unreachable after backoff, staying offline")
			select {
			case <-time.After(offlineRetryInterval):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		r.bootstrap(ctx)

		if err := r.Consumer.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("consumer connect failed")
			select {
			case <-time.After(offlineRetryInterval):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		err := r.Consumer.Run(ctx)
		r.Consumer.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Error().Err(err).Msg("consumer stopped, reconnecting")
	}
}

// connect dials the producer with exponential backoff, giving up after
// the retry budget so the caller can fall back to slow periodic retries.
func (r *Runtime) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectInitialInterval
	bo.Multiplier = connectMultiplier
	bo.MaxInterval = connectMaxInterval
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return r.Producer.Connect(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectMaxRetries), ctx))
}

// bootstrap runs the first-connect work: bucket setup, the optional
// full media seed, and an immediate drain of anything queued while
// offline.
func (r *Runtime) bootstrap(ctx context.Context) {
	if r.Media != nil && r.Cfg.Mode == config.ModeReplica {
		if err := r.Media.EnsureLocalBucket(ctx); err != nil {
			log.Error().Err(err).Msg("local media bucket setup failed")
		}
		if !r.Cfg.Media.DisableFullSync {
			r.fullSyncOnce.Do(func() {
				go r.Media.FullSync(ctx)
			})
		}
	}
	r.drainIfConnected(ctx)
}

func (r *Runtime) onReconnect(ctx context.Context) {
	select {
	case <-time.After(reconnectStabilization):
	case <-ctx.Done():
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := r.Producer.Ping(pingCtx)
	cancel()
	if err != nil {
		log.Debug().Err(err).Msg("connection flapped during stabilization, drain skipped")
		return
	}
	r.drainIfConnected(ctx)
}

func (r *Runtime) drainIfConnected(ctx context.Context) {
	if !r.Producer.IsConnected() {
		return
	}
	if _, err := r.Pusher.Drain(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("queue drain incomplete")
	}
}

func (r *Runtime) heartbeat(ctx context.Context) {
	if !r.Producer.IsConnected() {
		return
	}
	if err := r.Producer.SendHeartbeat(ctx); err != nil {
		log.Warn().Err(err).Msg("heartbeat send failed")
	}
}

// janitor runs the periodic maintenance sweep.
func (r *Runtime) janitor(ctx context.Context) {
	retention := r.Cfg.Retention()

	if r.Peers != nil {
		if _, err := r.Peers.MarkOfflinePeers(ctx); err != nil {
			log.Error().Err(err).Msg("peer liveness sweep failed")
		}
	}
	if _, err := r.Queue.RetryFailed(ctx, r.Cfg.Sync.RetryAttempts); err != nil {
		log.Error().Err(err).Msg("failed-entry revival failed")
	}
	if _, err := r.Queue.PruneSent(ctx, retention); err != nil {
		log.Error().Err(err).Msg("sent-queue prune failed")
	}
	if _, err := r.Dedup.Prune(ctx, retention); err != nil {
		log.Error().Err(err).Msg("dedup ledger prune failed")
	}
	if _, err := r.DeadLetters.PruneResolved(ctx, retention); err != nil {
		log.Error().Err(err).Msg("dead-letter prune failed")
	}
}

func (r *Runtime) tickerLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
