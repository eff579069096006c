package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/syncx"
)

const (
	defaultPullLimit = 50
	maxPullLimit     = 200
)

type pullResp struct {
	Messages   []*syncx.Message `json:"messages"`
	NextCursor *string          `json:"nextCursor,omitempty"`
}

// Pull is the HTTP fallback for the master-to-replica direction: a
// replica that cannot consume the bus pages through master changes via
// an opaque cursor over (updatedAt, entityId).
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"), defaultPullLimit, maxPullLimit)

	cursor, _ := syncx.DecodeCursor(r.URL.Query().Get("cursor"))
	since := time.UnixMilli(cursor.Ms)

	// Over-fetch by one page so cursor ties can be skipped without
	// shorting the response.
	docs, err := s.Changes.ChangedSince(ctx, since, limit*2)
	if err != nil {
		log.Error().Err(err).Msg("change listing failed")
		writeError(w, http.StatusInternalServerError, "change listing failed")
		return
	}

	peer := auth.PeerID(ctx)
	if s.Peers != nil && peer != "" {
		if err := s.Peers.RecordActivity(ctx, peer, nil); err != nil {
			log.Error().Err(err).Str("peer_id", peer).Msg("record peer activity failed")
		}
	}

	resp := pullResp{Messages: []*syncx.Message{}}
	for _, doc := range docs {
		ms := doc.UpdatedAt.UnixMilli()
		// Skip rows at or before the cursor position
		if ms < cursor.Ms || (ms == cursor.Ms && doc.EntityID <= cursor.ID) {
			continue
		}
		if len(resp.Messages) >= limit {
			break
		}

		var version int64
		if meta, err := s.Versions.Get(ctx, doc.ContentType, doc.EntityID); err != nil {
			log.Error().Err(err).Msg("version lookup failed")
			writeError(w, http.StatusInternalServerError, "version lookup failed")
			return
		} else if meta != nil {
			version = meta.SyncVersion
		}

		op := syncx.OpUpdate
		if doc.PublishedAt != nil {
			op = syncx.OpPublish
		}
		resp.Messages = append(resp.Messages, &syncx.Message{
			MessageID:   syncx.NewMessageID(syncx.MasterPeerID, doc.EntityID),
			ShipID:      syncx.MasterPeerID,
			Timestamp:   syncx.RFC3339(ms),
			Operation:   op,
			ContentType: doc.ContentType,
			ContentID:   doc.EntityID,
			Version:     version,
			Data:        doc.Data,
		})
	}

	if n := len(resp.Messages); n == limit {
		last := resp.Messages[n-1]
		ms, _ := syncx.ParseTimeToMs(last.Timestamp)
		next := syncx.EncodeCursor(syncx.Cursor{Ms: ms, ID: last.ContentID})
		resp.NextCursor = &next
	}

	writeJSON(w, http.StatusOK, resp)
}
