package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/store"
)

// ResolveConflict applies a human decision to a pending conflict.
//
// choice is keep_local, keep_remote, or merge. For merge an explicit
// merged payload may be supplied; when it is nil the configured
// automatic strategy combines the two recorded sides. The chosen
// payload is written back to the CMS (recreating the entity if it no
// longer exists), the conflict is marked resolved, and the entity's
// sync metadata is re-synced.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID int64, choice string, merged map[string]any, resolvedBy string) error {
	c, err := e.Conflicts.Get(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("load conflict: %w", err)
	}
	if c == nil {
		return fmt.Errorf("conflict %d not found", conflictID)
	}
	if c.Status != "pending" {
		return fmt.Errorf("conflict %d already resolved", conflictID)
	}

	var chosen map[string]any
	switch choice {
	case store.ResolveKeepLocal:
		chosen = c.LocalData
	case store.ResolveKeepRemote:
		chosen = c.RemoteData
	case store.ResolveMerge:
		if merged != nil {
			chosen = merged
		} else if e.MergeStrategy == "lww" {
			chosen = LastWriterWins(c.LocalData, c.RemoteData)
		} else {
			chosen = AutoMerge(c.LocalData, c.RemoteData)
		}
	default:
		return fmt.Errorf("invalid resolution choice: %q", choice)
	}

	existing, err := e.CMS.FindOne(ctx, c.ContentType, c.EntityID)
	if err != nil {
		return fmt.Errorf("read entity: %w", err)
	}
	if existing == nil {
		if err := e.CMS.Create(ctx, c.ContentType, c.EntityID, chosen); err != nil {
			return fmt.Errorf("recreate entity: %w", err)
		}
	} else if err := e.CMS.Update(ctx, c.ContentType, c.EntityID, chosen); err != nil {
		return fmt.Errorf("write resolution: %w", err)
	}

	if err := e.Conflicts.MarkResolved(ctx, conflictID, choice, chosen, resolvedBy); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}

	if _, err := e.Meta.IncrementVersion(ctx, c.ContentType, c.EntityID, e.PeerID); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if err := e.Meta.MarkSynced(ctx, c.ContentType, c.EntityID); err != nil {
		return fmt.Errorf("re-sync metadata: %w", err)
	}

	log.Info().
		Int64("conflict_id", conflictID).
		Str("choice", choice).
		Str("resolved_by", resolvedBy).
		Str("content_type", c.ContentType).
		Str("entity_id", c.EntityID).
		Msg("conflict resolved")
	return nil
}
