// Package httpapi is the management surface: sync status, the HTTP
// push/pull fallback transport, and conflict and dead-letter handling.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/cms"
	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/hooks"
	"github.com/shorelink/fleetsync/internal/monitor"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// Applier is the engine surface the handlers invoke.
type Applier interface {
	Apply(ctx context.Context, msg *syncx.Message) error
	ResolveConflict(ctx context.Context, conflictID int64, choice string, merged map[string]any, resolvedBy string) error
}

// ChangeSource feeds the pull endpoint. Satisfied by cms.Client.
type ChangeSource interface {
	ChangedSince(ctx context.Context, since time.Time, limit int) ([]cms.Document, error)
}

// Deduper is the processed-message ledger, shared with the bus consumer
// so both transports honor the same exactly-once contract.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, messageID string) error
}

// ConflictLog is the conflict-listing surface.
type ConflictLog interface {
	ListPending(ctx context.Context, limit int) ([]store.Conflict, error)
	CountPending(ctx context.Context) (int64, error)
}

// DeadLetters is the quarantine surface.
type DeadLetters interface {
	List(ctx context.Context, limit int, unresolvedOnly bool) ([]store.Letter, error)
	Get(ctx context.Context, id int64) (*store.Letter, error)
	MarkResolved(ctx context.Context, id int64) error
}

// Peers is the liveness surface. Only wired on the master.
type Peers interface {
	List(ctx context.Context) ([]store.Session, error)
	RecordActivity(ctx context.Context, peerID string, metadata map[string]any) error
	UpdateSyncStatus(ctx context.Context, peerID, outcome string, count int64) error
}

// VersionSource resolves the outbound version for pulled documents.
type VersionSource interface {
	Get(ctx context.Context, contentType, entityID string) (*store.Metadata, error)
}

// QueueStats reports outbound queue depth for the status endpoint.
type QueueStats interface {
	Stats(ctx context.Context) (store.QueueStats, error)
}

// Connectivity is the monitor's snapshot surface.
type Connectivity interface {
	State() monitor.State
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Cfg    *config.Config
	Engine Applier

	Changes     ChangeSource  // master only
	Versions    VersionSource // master only
	Dedup       Deduper
	Queue       QueueStats
	Conflicts   ConflictLog
	DeadLetters DeadLetters
	Peers       Peers        // nil on replicas
	Monitor     Connectivity // nil until the runtime starts it
	Hooks       *hooks.Interceptor
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type errResp struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errResp{Error: msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// pathID parses the {id} chi URL parameter.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// All sync endpoints require authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Get("/sync/status", s.Status)
		r.Post("/hooks/lifecycle", s.Lifecycle)

		// HTTP fallback transport, master side
		if s.Cfg.Mode == config.ModeMaster {
			r.Post("/sync/push", s.Push)
			r.Get("/sync/pull", s.Pull)
		}

		r.Get("/sync/conflicts", s.ListConflicts)
		r.Post("/sync/conflicts/{id}/resolve", s.ResolveConflict)

		r.Get("/sync/dead-letters", s.ListDeadLetters)
		r.Post("/sync/dead-letters/{id}/resolve", s.ResolveDeadLetter)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
