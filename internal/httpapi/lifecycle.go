package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shorelink/fleetsync/internal/hooks"
)

// Lifecycle receives content-change notifications from the co-deployed
// CMS and hands them to the interceptor. Always acknowledges: sync
// trouble must never fail the editor's save, so the interceptor
// swallows its own errors.
func (s *Server) Lifecycle(w http.ResponseWriter, r *http.Request) {
	var ev hooks.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if ev.Operation == "" || ev.ContentType == "" {
		writeError(w, http.StatusBadRequest, "operation and contentType are required")
		return
	}

	s.Hooks.AfterChange(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}
