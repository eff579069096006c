package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/engine"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

const maxPushBatch = 200

// pushReq is the request body for the push endpoint
type pushReq struct {
	Messages []*syncx.Message `json:"messages"`
}

// pushAck is a per-message acknowledgment in push responses
type pushAck struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"` // applied, conflict, duplicate, rejected
	Error     string `json:"error,omitempty"`
}

type pushResp struct {
	Processed       int       `json:"processed"`
	Conflicts       int       `json:"conflicts"`
	UpdatedEntities []string  `json:"updatedEntities"`
	Acks            []pushAck `json:"acks"`
}

// Push is the HTTP fallback for the replica-to-master direction: a
// replica that cannot reach the bus posts its queued messages here.
// Messages run through the same pipeline as bus deliveries: validate,
// deduplicate, apply, record.
func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pushReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	if len(req.Messages) > maxPushBatch {
		writeError(w, http.StatusBadRequest, "batch too large")
		return
	}

	peer := auth.PeerID(ctx)
	resp := pushResp{
		UpdatedEntities: make([]string, 0, len(req.Messages)),
		Acks:            make([]pushAck, 0, len(req.Messages)),
	}

	for _, msg := range req.Messages {
		ack := pushAck{MessageID: msg.MessageID}

		if err := msg.Validate(); err != nil {
			ack.Status = "rejected"
			ack.Error = err.Error()
			resp.Acks = append(resp.Acks, ack)
			continue
		}

		seen, err := s.Dedup.Seen(ctx, msg.MessageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dedup lookup failed")
			return
		}
		if seen {
			ack.Status = "duplicate"
			resp.Acks = append(resp.Acks, ack)
			continue
		}

		applyCtx := syncx.WithOrigin(ctx, syncx.OriginShip)
		err = s.Engine.Apply(applyCtx, msg)
		switch {
		case err == nil:
			ack.Status = "applied"
			resp.Processed++
			resp.UpdatedEntities = append(resp.UpdatedEntities, msg.ContentID)
		case errors.Is(err, engine.ErrConflict):
			ack.Status = "conflict"
			resp.Conflicts++
		case errors.Is(err, engine.ErrUnknownContentType):
			ack.Status = "rejected"
			ack.Error = err.Error()
		default:
			log.Error().Err(err).Str("message_id", msg.MessageID).Msg("push apply failed")
			writeError(w, http.StatusInternalServerError, "apply failed")
			return
		}

		if ack.Status != "rejected" {
			if err := s.Dedup.Record(ctx, msg.MessageID); err != nil {
				writeError(w, http.StatusInternalServerError, "dedup record failed")
				return
			}
		}
		resp.Acks = append(resp.Acks, ack)
	}

	if s.Peers != nil && peer != "" {
		if err := s.Peers.RecordActivity(ctx, peer, nil); err != nil {
			log.Error().Err(err).Str("peer_id", peer).Msg("record peer activity failed")
		}
		outcome := store.SyncSuccess
		if resp.Conflicts > 0 || resp.Processed < len(req.Messages) {
			outcome = store.SyncPartial
		}
		if resp.Processed == 0 {
			outcome = store.SyncFailed
		}
		if err := s.Peers.UpdateSyncStatus(ctx, peer, outcome, int64(resp.Processed)); err != nil {
			log.Error().Err(err).Str("peer_id", peer).Msg("update sync status failed")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
