package media

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shorelink/fleetsync/internal/syncx"
)

// Outcome of a single object sync.
type Outcome int

const (
	OutcomeSynced Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// Direction of a payload scan.
type Direction int

const (
	// FromMaster scans for master-base URLs (replica receive path).
	FromMaster Direction = iota
	// FromLocal scans for local-base URLs (replica push path).
	FromLocal
)

// Mirror copies objects between the master store and the local store on
// demand, driven by the URLs found in content payloads. All of its
// content-facing operations are best-effort: a media failure is logged
// and the payload flows on, because content consistency must not hinge
// on binary availability.
type Mirror struct {
	Master ObjectStore
	Local  ObjectStore
	Paths  PathMapper

	// TransformURLs controls payload rewriting; when false the mirror
	// still copies objects but leaves URLs alone.
	TransformURLs bool

	// MaxFilesPerSync caps how many objects one payload may trigger.
	MaxFilesPerSync int
}

// EnsureLocalBucket creates the replica's bucket if missing.
func (m *Mirror) EnsureLocalBucket(ctx context.Context) error {
	return m.Local.EnsureBucket(ctx)
}

// SyncObject copies one object, identified by its normalized path, from
// the master store into the local store if it is not already present.
func (m *Mirror) SyncObject(ctx context.Context, objPath string) Outcome {
	exists, err := m.Local.Exists(ctx, objPath)
	if err != nil {
		log.Warn().Err(err).Str("path", objPath).Msg("local existence check failed")
		return OutcomeFailed
	}
	if exists {
		return OutcomeSkipped
	}

	body, info, err := m.Master.Get(ctx, m.Paths.MasterObjectKey(objPath))
	if err != nil {
		log.Warn().Err(err).Str("path", objPath).Msg("fetch from master store failed")
		return OutcomeFailed
	}
	defer body.Close()

	if err := m.Local.Put(ctx, objPath, body, info.Size, info.ContentType); err != nil {
		log.Warn().Err(err).Str("path", objPath).Msg("store to local failed")
		return OutcomeFailed
	}

	log.Info().Str("path", objPath).Int64("size", info.Size).Msg("object mirrored from master")
	return OutcomeSynced
}

// ExtractObjectPaths walks an arbitrary content payload and returns the
// normalized object paths of every URL under the scanned base,
// deduplicated and sorted.
func (m *Mirror) ExtractObjectPaths(data map[string]any, dir Direction) []string {
	seen := map[string]bool{}
	syncx.CollectStrings(data, func(s string) {
		match := m.Paths.IsMasterURL(s)
		if dir == FromLocal {
			match = m.Paths.IsLocalURL(s)
		}
		if !match {
			return
		}
		if p, ok := m.Paths.PathFromURL(s); ok {
			seen[p] = true
		}
	})

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RewriteURLs returns a deep copy of data with every occurrence of
// fromBase replaced by toBase. Traversal depth is bounded.
func RewriteURLs(data map[string]any, fromBase, toBase string) map[string]any {
	out, _ := syncx.RewriteStrings(data, fromBase, toBase).(map[string]any)
	return out
}

// SyncContentMedia runs on the replica apply path: every master URL in
// the payload is mirrored into the local store on demand and the
// payload is rewritten to local URLs. Failures leave the original URL
// in place so the content still references something fetchable.
func (m *Mirror) SyncContentMedia(ctx context.Context, data map[string]any) map[string]any {
	paths := m.ExtractObjectPaths(data, FromMaster)
	if len(paths) == 0 {
		return data
	}
	if m.MaxFilesPerSync > 0 && len(paths) > m.MaxFilesPerSync {
		log.Warn().Int("found", len(paths)).Int("cap", m.MaxFilesPerSync).
			Msg("payload references more objects than the per-sync cap")
		paths = paths[:m.MaxFilesPerSync]
	}

	out := data
	for _, p := range paths {
		switch m.SyncObject(ctx, p) {
		case OutcomeFailed:
			continue
		default:
			if m.TransformURLs {
				out = RewriteURLs(out, m.Paths.MasterURL(p), m.Paths.LocalURL(p))
			}
		}
	}
	return out
}

// PrepareForPush runs on the replica push path: every local URL in the
// payload has its object uploaded to the master store if absent there,
// URLs are rewritten to master form, and a FileRecord per object is
// returned for the master to materialize CMS file rows from.
func (m *Mirror) PrepareForPush(ctx context.Context, data map[string]any) (map[string]any, []syncx.FileRecord) {
	paths := m.ExtractObjectPaths(data, FromLocal)
	if len(paths) == 0 {
		return data, nil
	}
	if m.MaxFilesPerSync > 0 && len(paths) > m.MaxFilesPerSync {
		paths = paths[:m.MaxFilesPerSync]
	}

	out := data
	var records []syncx.FileRecord
	for _, p := range paths {
		info, err := m.Local.Stat(ctx, p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("local object missing, skipping push")
			continue
		}

		masterKey := m.Paths.MasterObjectKey(p)
		exists, err := m.Master.Exists(ctx, masterKey)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("master existence check failed")
			continue
		}
		if !exists {
			body, _, err := m.Local.Get(ctx, p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("read local object failed")
				continue
			}
			err = m.Master.Put(ctx, masterKey, body, info.Size, info.ContentType)
			body.Close()
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("upload to master failed")
				continue
			}
			log.Info().Str("path", p).Int64("size", info.Size).Msg("object pushed to master")
		}

		records = append(records, m.fileRecord(p, info))
		if m.TransformURLs {
			out = RewriteURLs(out, m.Paths.LocalURL(p), m.Paths.MasterURL(p))
		}
	}
	return out, records
}

func (m *Mirror) fileRecord(objPath string, info ObjectInfo) syncx.FileRecord {
	name := path.Base(objPath)
	ext := path.Ext(name)
	return syncx.FileRecord{
		ID:       objPath,
		Name:     name,
		Hash:     strings.Trim(info.ETag, `"`),
		Ext:      ext,
		Mime:     info.ContentType,
		Size:     info.Size,
		URL:      m.Paths.MasterURL(objPath),
		Provider: "fleetsync-mirror",
	}
}

// FullSync walks the entire master bucket and mirrors everything that
// is missing locally. Used for first-boot seeding; gated by
// configuration because ship links are narrow.
func (m *Mirror) FullSync(ctx context.Context) (synced, skipped, failed int) {
	for info := range m.Master.List(ctx, m.Paths.UploadPath) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch m.SyncObject(ctx, m.Paths.NormalizePath(info.Key)) {
		case OutcomeSynced:
			synced++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	log.Info().Int("synced", synced).Int("skipped", skipped).Int("failed", failed).
		Msg("full media sync complete")
	return
}
