package cms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/syncx"
)

// PGClient is a reference Client backed by the cms_document/cms_file
// tables. It treats the configured allow-list as its content-type
// registry; an empty list accepts any type.
type PGClient struct {
	DB    *pgxpool.Pool
	Types []string
}

// NewPGClient creates a PGClient over the given pool.
func NewPGClient(db *pgxpool.Pool, types []string) *PGClient {
	return &PGClient{DB: db, Types: types}
}

func (c *PGClient) KnownContentType(contentType string) bool {
	if len(c.Types) == 0 {
		return contentType != ""
	}
	for _, t := range c.Types {
		if t == contentType {
			return true
		}
	}
	return false
}

func (c *PGClient) FindOne(ctx context.Context, contentType, entityID string) (*Document, error) {
	doc := &Document{ContentType: contentType, EntityID: entityID}
	err := c.DB.QueryRow(ctx, `
		SELECT data, published_at, updated_at
		FROM cms_document
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID).Scan(&doc.Data, &doc.PublishedAt, &doc.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *PGClient) Create(ctx context.Context, contentType, entityID string, data map[string]any) error {
	_, err := c.DB.Exec(ctx, `
		INSERT INTO cms_document (content_type, entity_id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_type, entity_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = now()
	`, contentType, entityID, data)
	return err
}

func (c *PGClient) Update(ctx context.Context, contentType, entityID string, data map[string]any) error {
	tag, err := c.DB.Exec(ctx, `
		UPDATE cms_document
		SET data = $3, updated_at = now()
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		log.Warn().Str("content_type", contentType).Str("entity_id", entityID).
			Msg("update target missing, inserting")
		return c.Create(ctx, contentType, entityID, data)
	}
	return nil
}

func (c *PGClient) Delete(ctx context.Context, contentType, entityID string) error {
	_, err := c.DB.Exec(ctx, `
		DELETE FROM cms_document
		WHERE content_type = $1 AND entity_id = $2
	`, contentType, entityID)
	return err
}

func (c *PGClient) Publish(ctx context.Context, contentType, entityID string, data map[string]any) error {
	_, err := c.DB.Exec(ctx, `
		INSERT INTO cms_document (content_type, entity_id, data, published_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (content_type, entity_id) DO UPDATE SET
			data = EXCLUDED.data,
			published_at = now(),
			updated_at = now()
	`, contentType, entityID, data)
	return err
}

func (c *PGClient) ChangedSince(ctx context.Context, since time.Time, limit int) ([]Document, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT content_type, entity_id, data, published_at, updated_at
		FROM cms_document
		WHERE updated_at >= $1
		ORDER BY updated_at, entity_id
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ContentType, &d.EntityID, &d.Data, &d.PublishedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (c *PGClient) FindFileByHash(ctx context.Context, hash string) (*syncx.FileRecord, error) {
	rec := &syncx.FileRecord{}
	err := c.DB.QueryRow(ctx, `
		SELECT id, document_id, name, hash, ext, mime, size, url,
		       preview_url, width, height, formats, provider,
		       provider_metadata, folder_path, alternative_text, caption
		FROM cms_file
		WHERE hash = $1
	`, hash).Scan(
		&rec.ID, &rec.DocumentID, &rec.Name, &rec.Hash, &rec.Ext, &rec.Mime,
		&rec.Size, &rec.URL, &rec.PreviewURL, &rec.Width, &rec.Height,
		&rec.Formats, &rec.Provider, &rec.ProviderMetadata, &rec.FolderPath,
		&rec.AlternativeText, &rec.Caption,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *PGClient) CreateFile(ctx context.Context, rec syncx.FileRecord) (string, error) {
	id := uuid.New().String()
	_, err := c.DB.Exec(ctx, `
		INSERT INTO cms_file (
			id, document_id, name, hash, ext, mime, size, url,
			preview_url, width, height, formats, provider,
			provider_metadata, folder_path, alternative_text, caption
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (hash) DO NOTHING
	`, id, rec.DocumentID, rec.Name, rec.Hash, rec.Ext, rec.Mime, rec.Size,
		rec.URL, rec.PreviewURL, rec.Width, rec.Height, rec.Formats,
		rec.Provider, rec.ProviderMetadata, rec.FolderPath,
		rec.AlternativeText, rec.Caption)
	if err != nil {
		return "", err
	}

	// The insert may have been a no-op on a concurrent duplicate;
	// read back the id that owns the hash either way.
	var ownerID string
	if err := c.DB.QueryRow(ctx,
		`SELECT id FROM cms_file WHERE hash = $1`, rec.Hash).Scan(&ownerID); err != nil {
		return "", err
	}
	return ownerID, nil
}
