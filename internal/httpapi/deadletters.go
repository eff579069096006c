package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/engine"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

type deadLetterListResp struct {
	Letters []store.Letter `json:"letters"`
}

// ListDeadLetters returns quarantined messages, unresolved first.
func (s *Server) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	letters, err := s.DeadLetters.List(r.Context(), limit, unresolvedOnly)
	if err != nil {
		log.Error().Err(err).Msg("dead-letter listing failed")
		writeError(w, http.StatusInternalServerError, "dead-letter listing failed")
		return
	}
	if letters == nil {
		letters = []store.Letter{}
	}
	writeJSON(w, http.StatusOK, deadLetterListResp{Letters: letters})
}

type deadLetterResolveReq struct {
	Action string `json:"action"` // requeue or discard
}

// ResolveDeadLetter discards a quarantined message or pushes it back
// through the apply path, then stamps it resolved either way.
func (s *Server) ResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dead-letter id")
		return
	}

	var req deadLetterResolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Action != "requeue" && req.Action != "discard" {
		writeError(w, http.StatusBadRequest, "action must be requeue or discard")
		return
	}

	ctx := r.Context()
	letter, err := s.DeadLetters.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("dead_letter_id", id).Msg("dead-letter load failed")
		writeError(w, http.StatusInternalServerError, "dead-letter load failed")
		return
	}
	if letter == nil {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if letter.ResolvedAt != nil {
		writeError(w, http.StatusConflict, "dead letter already resolved")
		return
	}

	status := "discarded"
	if req.Action == "requeue" {
		var msg syncx.Message
		if err := json.Unmarshal(letter.Payload, &msg); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "payload is not a valid sync message")
			return
		}
		if err := msg.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		applyCtx := syncx.WithOrigin(ctx, syncx.OriginShip)
		err = s.Engine.Apply(applyCtx, &msg)
		switch {
		case err == nil:
			status = "applied"
		case errors.Is(err, engine.ErrConflict):
			status = "conflict"
		case errors.Is(err, engine.ErrUnknownContentType):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		default:
			log.Error().Err(err).Int64("dead_letter_id", id).Msg("dead-letter requeue failed")
			writeError(w, http.StatusInternalServerError, "requeue failed")
			return
		}
	}

	if err := s.DeadLetters.MarkResolved(ctx, id); err != nil {
		log.Error().Err(err).Int64("dead_letter_id", id).Msg("mark resolved failed")
		writeError(w, http.StatusInternalServerError, "mark resolved failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}
