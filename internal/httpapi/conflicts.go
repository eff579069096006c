package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/store"
)

type conflictListResp struct {
	Conflicts []store.Conflict `json:"conflicts"`
}

// ListConflicts returns pending conflicts, oldest first.
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)

	conflicts, err := s.Conflicts.ListPending(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("conflict listing failed")
		writeError(w, http.StatusInternalServerError, "conflict listing failed")
		return
	}
	if conflicts == nil {
		conflicts = []store.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflictListResp{Conflicts: conflicts})
}

type resolveReq struct {
	Choice     string         `json:"choice"` // keep_local, keep_remote, merge
	MergedData map[string]any `json:"mergedData,omitempty"`
}

// ResolveConflict applies a human decision to one pending conflict.
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	resolvedBy := auth.PeerID(r.Context())
	err := s.Engine.ResolveConflict(r.Context(), id, req.Choice, req.MergedData, resolvedBy)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"resolved": true, "id": id})
	case strings.Contains(err.Error(), "not found"):
		writeError(w, http.StatusNotFound, err.Error())
	case strings.Contains(err.Error(), "invalid resolution choice"):
		writeError(w, http.StatusBadRequest, err.Error())
	case strings.Contains(err.Error(), "already resolved"):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Int64("conflict_id", id).Msg("conflict resolution failed")
		writeError(w, http.StatusInternalServerError, "resolution failed")
	}
}
