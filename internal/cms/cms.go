// Package cms defines the contract the replication engine holds against
// the content-management system it synchronizes. The engine never talks
// to content storage except through Client.
package cms

import (
	"context"
	"time"

	"github.com/shorelink/fleetsync/internal/syncx"
)

// Document is one content entity as the CMS hands it to the engine.
// Data is the full duck-typed payload.
type Document struct {
	ContentType string
	EntityID    string
	Data        map[string]any
	PublishedAt *time.Time
	UpdatedAt   time.Time
}

// Client is the surface of the CMS the apply path and the media mirror
// consume. Implementations must return (nil, nil) from the finders when
// the target does not exist; absence is not an error on this contract.
type Client interface {
	// KnownContentType reports whether the CMS has a definition for
	// the given content-type identifier.
	KnownContentType(contentType string) bool

	FindOne(ctx context.Context, contentType, entityID string) (*Document, error)
	Create(ctx context.Context, contentType, entityID string, data map[string]any) error
	Update(ctx context.Context, contentType, entityID string, data map[string]any) error
	Delete(ctx context.Context, contentType, entityID string) error
	Publish(ctx context.Context, contentType, entityID string, data map[string]any) error

	// ChangedSince lists documents modified at or after the given
	// instant, oldest first, for the management pull endpoint. The
	// boundary is inclusive so cursor ties at the same timestamp are
	// never skipped; callers deduplicate by (timestamp, id).
	ChangedSince(ctx context.Context, since time.Time, limit int) ([]Document, error)

	// FindFileByHash looks up a file row by its content hash, the
	// de-duplication key for replica-pushed media.
	FindFileByHash(ctx context.Context, hash string) (*syncx.FileRecord, error)

	// CreateFile inserts a file row and returns its id.
	CreateFile(ctx context.Context, rec syncx.FileRecord) (string, error)
}
