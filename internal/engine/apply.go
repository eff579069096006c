// Package engine implements the apply path: taking a remote SyncMessage
// and mutating the local CMS to reflect it, with conflict detection and
// human-driven resolution.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/cms"
	"github.com/shorelink/fleetsync/internal/media"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// ErrUnknownContentType marks messages for content types this deployment
// has no definition for. The consumer dead-letters them.
var ErrUnknownContentType = errors.New("unknown content type")

// ErrConflict is returned when an apply is stopped by a detected
// conflict. The message is considered handled: the conflict is logged
// and awaits manual resolution.
var ErrConflict = errors.New("conflict detected")

// MetadataTracker is the version-tracking surface the engine needs.
type MetadataTracker interface {
	IncrementVersion(ctx context.Context, contentType, entityID, peerID string) (int64, error)
	Get(ctx context.Context, contentType, entityID string) (*store.Metadata, error)
	MarkSynced(ctx context.Context, contentType, entityID string) error
	MarkConflict(ctx context.Context, contentType, entityID string) error
	Purge(ctx context.Context, contentType, entityID string) error
}

// ConflictRecorder is the conflict-log surface the engine needs.
type ConflictRecorder interface {
	Upsert(ctx context.Context, c store.Conflict) (int64, error)
	Get(ctx context.Context, id int64) (*store.Conflict, error)
	MarkResolved(ctx context.Context, id int64, resolution string, merged map[string]any, resolvedBy string) error
}

// MediaSyncer mirrors in-payload media before an apply. Implementations
// must be best-effort: a media failure is logged, never returned.
type MediaSyncer interface {
	SyncContentMedia(ctx context.Context, data map[string]any) map[string]any
}

// Engine applies remote operations against the local CMS.
type Engine struct {
	CMS       cms.Client
	Meta      MetadataTracker
	Conflicts ConflictRecorder
	Media     MediaSyncer // nil when media replication is disabled

	// MergeStrategy selects the automatic merge used when a conflict
	// is resolved with choice "merge" and no explicit payload: "fill"
	// (field-wise, local base) or "lww" (updatedAt comparison).
	MergeStrategy string

	// PeerID identifies this deployment in version metadata written
	// during resolution.
	PeerID string
}

// Apply executes one remote message against the local CMS.
//
// Returns ErrUnknownContentType for undefined content types and
// ErrConflict when the apply was stopped and logged as a conflict.
// A missing target for update/delete is a warn-and-drop, not an error.
func (e *Engine) Apply(ctx context.Context, msg *syncx.Message) error {
	logger := log.With().
		Str("content_type", msg.ContentType).
		Str("content_id", msg.ContentID).
		Str("operation", msg.Operation).
		Str("origin", msg.ShipID).
		Logger()

	if !e.CMS.KnownContentType(msg.ContentType) {
		logger.Warn().Msg("dropping message for unknown content type")
		return fmt.Errorf("%w: %s", ErrUnknownContentType, msg.ContentType)
	}

	// Replica pushes carry the file rows behind their in-payload media.
	// Ingest them first: known hashes reuse the existing file row, new
	// ones get a row, and the payload's file ids are rewritten to the
	// local ids before anything else looks at the data.
	data := msg.Data
	if len(msg.FileRecords) > 0 {
		mapping, err := media.ProcessReplicaFileRecords(ctx, e.CMS, msg.FileRecords)
		if err != nil {
			return fmt.Errorf("ingest file records: %w", err)
		}
		data = media.UpdateContentFileIDs(data, mapping)
	}

	local, err := e.CMS.FindOne(ctx, msg.ContentType, msg.ContentID)
	if err != nil {
		return fmt.Errorf("read local entity: %w", err)
	}
	meta, err := e.Meta.Get(ctx, msg.ContentType, msg.ContentID)
	if err != nil {
		return fmt.Errorf("read sync metadata: %w", err)
	}

	// Conflict detection runs for content-bearing operations against an
	// entity both sides have touched. Deletes skip it: the wire version
	// of a tombstone is 0 and carries no data to diff.
	if local != nil && meta != nil && msg.Operation != syncx.OpDelete {
		res := DetectConflict(local.Data, data)
		if res.HasConflict {
			if _, err := e.Conflicts.Upsert(ctx, store.Conflict{
				ContentType:       msg.ContentType,
				EntityID:          msg.ContentID,
				LocalData:         local.Data,
				RemoteData:        data,
				ConflictingFields: res.Fields,
				ConflictType:      res.Kind,
			}); err != nil {
				return fmt.Errorf("record conflict: %w", err)
			}
			if err := e.Meta.MarkConflict(ctx, msg.ContentType, msg.ContentID); err != nil {
				return fmt.Errorf("flag conflict metadata: %w", err)
			}
			logger.Warn().
				Strs("fields", res.Fields).
				Str("kind", res.Kind).
				Msg("conflict detected, apply stopped")
			return ErrConflict
		}
	}

	if e.Media != nil && data != nil {
		data = e.Media.SyncContentMedia(ctx, data)
	}

	switch msg.Operation {
	case syncx.OpCreate:
		if local != nil {
			logger.Warn().Msg("create for existing entity, applying as update")
			if err := e.CMS.Update(ctx, msg.ContentType, msg.ContentID, data); err != nil {
				return fmt.Errorf("apply create-as-update: %w", err)
			}
		} else if err := e.CMS.Create(ctx, msg.ContentType, msg.ContentID, data); err != nil {
			return fmt.Errorf("apply create: %w", err)
		}

	case syncx.OpUpdate:
		if local == nil {
			logger.Warn().Msg("update target missing, dropping")
			return nil
		}
		if err := e.CMS.Update(ctx, msg.ContentType, msg.ContentID, data); err != nil {
			return fmt.Errorf("apply update: %w", err)
		}

	case syncx.OpDelete:
		if local == nil {
			logger.Warn().Msg("delete target missing, dropping")
			return nil
		}
		if err := e.CMS.Delete(ctx, msg.ContentType, msg.ContentID); err != nil {
			return fmt.Errorf("apply delete: %w", err)
		}
		if err := e.Meta.Purge(ctx, msg.ContentType, msg.ContentID); err != nil {
			return fmt.Errorf("purge metadata: %w", err)
		}
		logger.Info().Msg("applied remote delete")
		return nil

	case syncx.OpPublish:
		if err := e.CMS.Publish(ctx, msg.ContentType, msg.ContentID, data); err != nil {
			return fmt.Errorf("apply publish: %w", err)
		}

	default:
		return fmt.Errorf("unsupported operation: %q", msg.Operation)
	}

	if _, err := e.Meta.IncrementVersion(ctx, msg.ContentType, msg.ContentID, msg.ShipID); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if err := e.Meta.MarkSynced(ctx, msg.ContentType, msg.ContentID); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	logger.Info().Int64("version", msg.Version).Msg("applied remote operation")
	return nil
}
