package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Conflict kinds, from the structural diff in the engine.
const (
	ConflictDirect     = "direct"
	ConflictIndirect   = "indirect"
	ConflictStructural = "structural"
)

// Resolution choices.
const (
	ResolveKeepLocal  = "keep_local"
	ResolveKeepRemote = "keep_remote"
	ResolveMerge      = "merge"
)

// Conflict is one conflict_log row.
type Conflict struct {
	ID                int64          `json:"id"`
	ContentType       string         `json:"contentType"`
	EntityID          string         `json:"entityId"`
	LocalData         map[string]any `json:"localData"`
	RemoteData        map[string]any `json:"remoteData"`
	ConflictingFields []string       `json:"conflictingFields"`
	ConflictType      string         `json:"conflictType"`
	Status            string         `json:"status"`
	Resolution        *string        `json:"resolution,omitempty"`
	MergedData        map[string]any `json:"mergedData,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	ResolvedAt        *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy        *string        `json:"resolvedBy,omitempty"`
}

// ConflictStore records conflicts for human resolution. At most one
// pending row exists per (contentType, entityId); a repeat conflict on
// the same entity refreshes the pending row instead of stacking up.
type ConflictStore struct {
	DB *pgxpool.Pool
}

// NewConflictStore creates a ConflictStore over the given pool.
func NewConflictStore(db *pgxpool.Pool) *ConflictStore {
	return &ConflictStore{DB: db}
}

// Upsert records a pending conflict, replacing any pending row for the
// same entity, and returns its id.
func (s *ConflictStore) Upsert(ctx context.Context, c Conflict) (int64, error) {
	var id int64
	err := s.DB.QueryRow(ctx, `
		INSERT INTO conflict_log
			(content_type, entity_id, local_data, remote_data, conflicting_fields, conflict_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_type, entity_id) WHERE status = 'pending'
		DO UPDATE SET
			local_data         = EXCLUDED.local_data,
			remote_data        = EXCLUDED.remote_data,
			conflicting_fields = EXCLUDED.conflicting_fields,
			conflict_type      = EXCLUDED.conflict_type,
			created_at         = now()
		RETURNING id
	`, c.ContentType, c.EntityID, c.LocalData, c.RemoteData, c.ConflictingFields, c.ConflictType).Scan(&id)
	return id, err
}

// Get returns one conflict by id, or (nil, nil) if absent.
func (s *ConflictStore) Get(ctx context.Context, id int64) (*Conflict, error) {
	c := &Conflict{}
	err := s.DB.QueryRow(ctx, `
		SELECT id, content_type, entity_id, local_data, remote_data,
		       conflicting_fields, conflict_type, status, resolution,
		       merged_data, created_at, resolved_at, resolved_by
		FROM conflict_log
		WHERE id = $1
	`, id).Scan(&c.ID, &c.ContentType, &c.EntityID, &c.LocalData, &c.RemoteData,
		&c.ConflictingFields, &c.ConflictType, &c.Status, &c.Resolution,
		&c.MergedData, &c.CreatedAt, &c.ResolvedAt, &c.ResolvedBy)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListPending returns pending conflicts, oldest first.
func (s *ConflictStore) ListPending(ctx context.Context, limit int) ([]Conflict, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, content_type, entity_id, local_data, remote_data,
		       conflicting_fields, conflict_type, status, resolution,
		       merged_data, created_at, resolved_at, resolved_by
		FROM conflict_log
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.ContentType, &c.EntityID, &c.LocalData,
			&c.RemoteData, &c.ConflictingFields, &c.ConflictType, &c.Status,
			&c.Resolution, &c.MergedData, &c.CreatedAt, &c.ResolvedAt, &c.ResolvedBy); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountPending reports the number of unresolved conflicts.
func (s *ConflictStore) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRow(ctx,
		`SELECT count(*) FROM conflict_log WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// MarkResolved stamps the chosen resolution onto the row.
func (s *ConflictStore) MarkResolved(ctx context.Context, id int64, resolution string, merged map[string]any, resolvedBy string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE conflict_log
		SET status = 'resolved', resolution = $2, merged_data = $3,
		    resolved_at = now(), resolved_by = $4
		WHERE id = $1
	`, id, resolution, merged, resolvedBy)
	return err
}
