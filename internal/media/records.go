package media

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/cms"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// ProcessReplicaFileRecords runs on the master when a replica push
// carries file records: records whose hash is already known reuse the
// existing CMS file row, the rest get new rows. Returns the mapping of
// replica-side ids to master-side ids.
func ProcessReplicaFileRecords(ctx context.Context, client cms.Client, records []syncx.FileRecord) (map[string]string, error) {
	mapping := make(map[string]string, len(records))
	for _, rec := range records {
		if rec.Hash == "" {
			log.Warn().Str("replica_id", rec.ID).Msg("file record without hash, skipping")
			continue
		}

		existing, err := client.FindFileByHash(ctx, rec.Hash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			mapping[rec.ID] = existing.ID
			continue
		}

		masterID, err := client.CreateFile(ctx, rec)
		if err != nil {
			return nil, err
		}
		mapping[rec.ID] = masterID
		log.Info().Str("hash", rec.Hash).Str("master_id", masterID).Msg("created file row from replica record")
	}
	return mapping, nil
}

// UpdateContentFileIDs rewrites in-payload file references to their
// master-side ids. A map counts as a file reference when it carries an
// id alongside file-ish fields (hash, mime, or url).
func UpdateContentFileIDs(data map[string]any, mapping map[string]string) map[string]any {
	if len(mapping) == 0 {
		return data
	}
	out, _ := syncx.Clone(data).(map[string]any)
	rewriteFileIDs(out, mapping, 0)
	return out
}

func rewriteFileIDs(v any, mapping map[string]string, depth int) {
	if depth >= syncx.MaxDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if id, ok := syncx.GetString(t, "id"); ok && looksLikeFile(t) {
			if masterID, ok := mapping[id]; ok {
				t["id"] = masterID
			}
		}
		for _, vv := range t {
			rewriteFileIDs(vv, mapping, depth+1)
		}
	case []any:
		for _, vv := range t {
			rewriteFileIDs(vv, mapping, depth+1)
		}
	}
}

func looksLikeFile(m map[string]any) bool {
	for _, k := range []string{"hash", "mime", "url"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
