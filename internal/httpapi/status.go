package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/monitor"
	"github.com/shorelink/fleetsync/internal/store"
)

type statusResp struct {
	Mode             string           `json:"mode"`
	PeerID           string           `json:"peerId"`
	Bus              *monitor.State   `json:"bus,omitempty"`
	Queue            store.QueueStats `json:"queue"`
	PendingConflicts int64            `json:"pendingConflicts"`
	Peers            []store.Session  `json:"peers,omitempty"`
}

// Status reports this deployment's sync health: connectivity, queue
// depth, unresolved conflicts, and (on the master) peer liveness.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := statusResp{
		Mode:   string(s.Cfg.Mode),
		PeerID: s.Cfg.PeerID(),
	}

	if s.Monitor != nil {
		st := s.Monitor.State()
		resp.Bus = &st
	}

	stats, err := s.Queue.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("queue stats failed")
		writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}
	resp.Queue = stats

	if resp.PendingConflicts, err = s.Conflicts.CountPending(ctx); err != nil {
		log.Error().Err(err).Msg("conflict count failed")
		writeError(w, http.StatusInternalServerError, "conflict count unavailable")
		return
	}

	if s.Peers != nil {
		if resp.Peers, err = s.Peers.List(ctx); err != nil {
			log.Error().Err(err).Msg("peer list failed")
			writeError(w, http.StatusInternalServerError, "peer list unavailable")
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
