// Package hooks observes CMS lifecycle events and feeds local edits
// into the replication pipeline.
package hooks

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// Versioner bumps the per-entity sync version.
type Versioner interface {
	IncrementVersion(ctx context.Context, contentType, entityID, peerID string) (int64, error)
}

// Enqueuer persists outbound work. Replicas enqueue to the outbound
// queue, the master to the broadcast queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, e store.Entry) error
}

// Broadcaster is the master's immediate publish path.
type Broadcaster interface {
	SendToShips(ctx context.Context, msg *syncx.Message) error
	IsConnected() bool
}

// Event is one CMS lifecycle notification after a write has committed.
type Event struct {
	Operation   string  `json:"operation"` // syncx.OpCreate, OpUpdate, OpDelete, OpPublish
	ContentType string  `json:"contentType"`
	Locale      *string `json:"locale,omitempty"`

	// Data is the written payload. Result is the action's return value,
	// consulted for the document id when Data lacks one.
	Data   map[string]any `json:"data,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// Interceptor turns local CMS writes into replication work. It never
// fails the triggering write: every internal error is swallowed and
// logged, because sync trouble must not block editors.
type Interceptor struct {
	Cfg      *config.Config
	Versions Versioner
	Queue    Enqueuer
	Bus      Broadcaster // nil in replica mode

	// Notify pokes the debounced pusher after an enqueue. Replica only.
	Notify func()
}

// AfterChange processes one lifecycle event.
func (i *Interceptor) AfterChange(ctx context.Context, ev Event) {
	if !i.syncable(ev.ContentType) {
		return
	}
	if syncx.IsRemote(ctx) {
		// This write is a peer's edit being applied; echoing it back
		// onto the bus would loop forever.
		return
	}

	contentID := documentID(ev)
	if contentID == "" {
		// Bulk actions return counts, not documents; nothing addressable
		// to replicate.
		log.Debug().Str("contentType", ev.ContentType).Str("operation", ev.Operation).
			Msg("lifecycle event without document id skipped")
		return
	}

	version, err := i.Versions.IncrementVersion(ctx, ev.ContentType, contentID, i.Cfg.PeerID())
	if err != nil {
		log.Debug().Err(err).Str("contentType", ev.ContentType).Str("contentId", contentID).
			Msg("sync version bump failed, event dropped")
		return
	}

	data := syncx.Redact(ev.Data)
	if ev.Operation == syncx.OpDelete {
		data = nil
	}

	if i.Cfg.Mode == config.ModeMaster {
		i.broadcast(ctx, ev, contentID, version, data)
		return
	}
	i.enqueue(ctx, ev, contentID, version, data)
}

// enqueue is the replica path: persist to the outbound queue and poke
// the debounced pusher.
func (i *Interceptor) enqueue(ctx context.Context, ev Event, contentID string, version int64, data map[string]any) {
	err := i.Queue.Enqueue(ctx, store.Entry{
		ShipID:       i.Cfg.PeerID(),
		ContentType:  ev.ContentType,
		ContentID:    contentID,
		Operation:    ev.Operation,
		LocalVersion: version,
		Data:         data,
		Locale:       ev.Locale,
	})
	if err != nil {
		log.Debug().Err(err).Str("contentId", contentID).Msg("outbound enqueue failed")
		return
	}
	log.Debug().Str("contentType", ev.ContentType).Str("contentId", contentID).
		Str("operation", ev.Operation).Msg("local edit queued for push")
	if i.Notify != nil {
		i.Notify()
	}
}

// broadcast is the master path: publish immediately when the bus is up,
// otherwise park the edit in the broadcast queue for the drainer.
func (i *Interceptor) broadcast(ctx context.Context, ev Event, contentID string, version int64, data map[string]any) {
	if i.Bus != nil && i.Bus.IsConnected() {
		msg := &syncx.Message{
			MessageID:   syncx.NewMessageID(i.Cfg.PeerID(), contentID),
			ShipID:      i.Cfg.PeerID(),
			Timestamp:   syncx.RFC3339(syncx.NowMs()),
			Operation:   ev.Operation,
			ContentType: ev.ContentType,
			ContentID:   contentID,
			Version:     version,
			Data:        data,
			Locale:      ev.Locale,
		}
		sendErr := i.Bus.SendToShips(ctx, msg)
		if sendErr == nil {
			return
		}
		log.Debug().Err(sendErr).Str("contentId", contentID).Msg("broadcast publish failed, queueing")
	}

	err := i.Queue.Enqueue(ctx, store.Entry{
		ShipID:       i.Cfg.PeerID(),
		ContentType:  ev.ContentType,
		ContentID:    contentID,
		Operation:    ev.Operation,
		LocalVersion: version,
		Data:         data,
		Locale:       ev.Locale,
	})
	if err != nil {
		log.Debug().Err(err).Str("contentId", contentID).Msg("broadcast enqueue failed")
	}
}

// syncable applies the content-type allow-list. Namespaced identifiers
// outside the api:: space (plugin::, admin::, strapi::) never replicate;
// plain identifiers, as used by CMSes without the namespace convention,
// go straight to the allow-list.
func (i *Interceptor) syncable(uid string) bool {
	if strings.Contains(uid, "::") && !strings.HasPrefix(uid, "api::") {
		return false
	}
	return i.Cfg.AllowsContentType(uid)
}

// documentID digs the document id out of the event, preferring the
// action result over the input payload.
func documentID(ev Event) string {
	if id, ok := syncx.GetString(ev.Result, "documentId"); ok && id != "" {
		return id
	}
	if id, ok := syncx.GetString(ev.Data, "documentId"); ok && id != "" {
		return id
	}
	id, _ := syncx.GetString(ev.Data, "id")
	return id
}
