package engine

import (
	"encoding/json"
	"sort"

	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

// reservedFields are excluded from conflict diffs and merges: entity
// identity, CMS bookkeeping timestamps, and sync metadata are expected
// to differ between peers and carry no editorial intent.
var reservedFields = map[string]bool{
	"id":          true,
	"documentId":  true,
	"createdAt":   true,
	"updatedAt":   true,
	"publishedAt": true,
	"createdBy":   true,
	"updatedBy":   true,
	"syncVersion": true,
	"sync":        true,
	"locale":      true,
	"localizations": true,
}

// ConflictResult is the outcome of comparing local and remote state.
type ConflictResult struct {
	HasConflict bool
	Fields      []string
	Kind        string
}

// DetectConflict runs a per-field structural diff over the non-reserved
// fields. Fields whose stringified JSON values differ on both sides make
// a direct conflict; fields present on one side only make the conflict
// structural. Identical payloads never conflict.
//
// Sync version counters play no part here: each peer advances its own
// counter, so two peers that each made one offline edit arrive with the
// same number on both sides. Only the data diff can tell those apart.
func DetectConflict(localData, remoteData map[string]any) ConflictResult {
	var shared, oneSided []string
	for k, lv := range localData {
		if reservedFields[k] {
			continue
		}
		rv, ok := remoteData[k]
		if !ok {
			oneSided = append(oneSided, k)
			continue
		}
		if stringify(lv) != stringify(rv) {
			shared = append(shared, k)
		}
	}
	for k := range remoteData {
		if reservedFields[k] {
			continue
		}
		if _, ok := localData[k]; !ok {
			oneSided = append(oneSided, k)
		}
	}

	fields := append(shared, oneSided...)
	if len(fields) == 0 {
		return ConflictResult{}
	}
	sort.Strings(fields)

	kind := store.ConflictDirect
	if len(oneSided) > 0 {
		kind = store.ConflictStructural
	}
	return ConflictResult{HasConflict: true, Fields: fields, Kind: kind}
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// AutoMerge is the shallow field-wise combination: local is the base,
// and any field absent there is filled from remote. Reserved fields are
// never copied across.
func AutoMerge(local, remote map[string]any) map[string]any {
	out, _ := syncx.Clone(local).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range remote {
		if reservedFields[k] {
			continue
		}
		if _, ok := out[k]; !ok {
			out[k] = syncx.Clone(v)
		}
	}
	return out
}

// LastWriterWins picks whichever side carries the newer updatedAt.
// Remote wins ties; an unparseable timestamp loses to a parseable one.
func LastWriterWins(local, remote map[string]any) map[string]any {
	localMs := updatedAtMs(local)
	remoteMs := updatedAtMs(remote)
	if localMs > remoteMs {
		out, _ := syncx.Clone(local).(map[string]any)
		return out
	}
	out, _ := syncx.Clone(remote).(map[string]any)
	return out
}

func updatedAtMs(m map[string]any) int64 {
	s, ok := syncx.GetString(m, "updatedAt")
	if !ok {
		return 0
	}
	ms, ok := syncx.ParseTimeToMs(s)
	if !ok {
		return 0
	}
	return ms
}
