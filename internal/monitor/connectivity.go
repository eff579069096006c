// Package monitor tracks whether the bus is reachable and fires
// callbacks when connectivity comes back after an outage.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const probeTimeout = 5 * time.Second

// Prober checks broker reachability. Satisfied by bus.Producer.
type Prober interface {
	Ping(ctx context.Context) error
}

// State is a snapshot of the monitor's view of connectivity.
type State struct {
	IsOnline             bool       `json:"isOnline"`
	LastChecked          time.Time  `json:"lastChecked"`
	LastSuccess          *time.Time `json:"lastSuccess,omitempty"`
	LastFailure          *time.Time `json:"lastFailure,omitempty"`
	ConsecutiveFailures  int        `json:"consecutiveFailures"`
	ConsecutiveSuccesses int        `json:"consecutiveSuccesses"`
}

// Monitor polls the bus on an interval and keeps a connectivity state
// machine. Reconnect callbacks fire on every offline-to-online
// transition, never on the initial probe of an already-online bus.
type Monitor struct {
	prober    Prober
	healthURL string
	interval  time.Duration
	httpc     *http.Client

	mu        sync.Mutex
	state     State
	probed    bool
	callbacks []func(ctx context.Context)
}

// New builds a monitor. healthURL is optional; when set, an HTTP 2xx
// from it counts as connectivity even if the broker ping fails, which
// covers brokers that sit behind a proxy exposing only a health check.
func New(prober Prober, healthURL string, interval time.Duration) *Monitor {
	return &Monitor{
		prober:    prober,
		healthURL: healthURL,
		interval:  interval,
		httpc:     &http.Client{Timeout: probeTimeout},
	}
}

// OnReconnect registers a callback fired after each offline-to-online
// transition. Callbacks run sequentially on the monitor goroutine.
func (m *Monitor) OnReconnect(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// State returns a copy of the current connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports the last observed connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

// Check runs one probe and updates the state, firing reconnect
// callbacks if the probe flips the state from offline to online.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	now := time.Now().UTC()

	m.mu.Lock()
	wasOnline := m.state.IsOnline
	first := !m.probed
	m.probed = true
	m.state.LastChecked = now
	m.state.IsOnline = online
	if online {
		m.state.LastSuccess = &now
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveFailures = 0
	} else {
		m.state.LastFailure = &now
		m.state.ConsecutiveFailures++
		m.state.ConsecutiveSuccesses = 0
	}
	callbacks := m.callbacks
	m.mu.Unlock()

	if online && !wasOnline && !first {
		log.Info().Msg("bus connectivity restored")
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
	if !online && (wasOnline || first) {
		log.Warn().Msg("bus unreachable")
	}
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := m.prober.Ping(probeCtx); err == nil {
		return true
	}
	if m.healthURL == "" {
		return false
	}

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run probes on the configured interval until the context is cancelled.
// The first probe happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// WaitOnline blocks until the bus is reachable or the context ends,
// probing on the monitor's interval. Returns true when online.
func (m *Monitor) WaitOnline(ctx context.Context) bool {
	if m.Check(ctx) {
		return true
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if m.Check(ctx) {
				return true
			}
		}
	}
}
