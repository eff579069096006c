package engine

import (
	"reflect"
	"testing"

	"github.com/shorelink/fleetsync/internal/store"
)

func TestDetectConflict(t *testing.T) {
	tests := []struct {
		name       string
		local      map[string]any
		remote     map[string]any
		wantFields []string
		wantKind   string
	}{
		{
			name:       "direct conflict on differing field",
			local:      map[string]any{"title": "A", "body": "same"},
			remote:     map[string]any{"title": "B", "body": "same"},
			wantFields: []string{"title"},
			wantKind:   store.ConflictDirect,
		},
		{
			name:       "structural conflict on one-sided field",
			local:      map[string]any{"title": "A", "subtitle": "only local"},
			remote:     map[string]any{"title": "A"},
			wantFields: []string{"subtitle"},
			wantKind:   store.ConflictStructural,
		},
		{
			name:       "structural outranks direct",
			local:      map[string]any{"title": "A", "subtitle": "x"},
			remote:     map[string]any{"title": "B"},
			wantFields: []string{"subtitle", "title"},
			wantKind:   store.ConflictStructural,
		},
		{
			name:   "reserved fields excluded",
			local:  map[string]any{"id": 1, "updatedAt": "x", "sync": map[string]any{"a": 1}},
			remote: map[string]any{"id": 2, "updatedAt": "y"},
		},
		{
			name:   "identical data is no conflict",
			local:  map[string]any{"title": "A", "n": float64(3)},
			remote: map[string]any{"title": "A", "n": float64(3)},
		},
		{
			name:       "nested values compared structurally",
			local:      map[string]any{"blocks": []any{map[string]any{"t": "p"}}},
			remote:     map[string]any{"blocks": []any{map[string]any{"t": "h1"}}},
			wantFields: []string{"blocks"},
			wantKind:   store.ConflictDirect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectConflict(tt.local, tt.remote)

			wantConflict := len(tt.wantFields) > 0
			if got.HasConflict != wantConflict {
				t.Fatalf("HasConflict = %v, want %v", got.HasConflict, wantConflict)
			}
			if !wantConflict {
				return
			}
			if !reflect.DeepEqual(got.Fields, tt.wantFields) {
				t.Errorf("Fields = %v, want %v", got.Fields, tt.wantFields)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestAutoMerge(t *testing.T) {
	local := map[string]any{"title": "local", "body": "b"}
	remote := map[string]any{"title": "remote", "subtitle": "s", "updatedAt": "2024-01-01"}

	got := AutoMerge(local, remote)

	want := map[string]any{"title": "local", "body": "b", "subtitle": "s"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AutoMerge() = %v, want %v", got, want)
	}

	// local base untouched
	if _, ok := local["subtitle"]; ok {
		t.Error("AutoMerge() mutated local")
	}
}

func TestLastWriterWins(t *testing.T) {
	older := map[string]any{"title": "old", "updatedAt": "2024-01-01T00:00:00Z"}
	newer := map[string]any{"title": "new", "updatedAt": "2024-06-01T00:00:00Z"}

	if got := LastWriterWins(older, newer); got["title"] != "new" {
		t.Errorf("newer remote should win, got %v", got["title"])
	}
	if got := LastWriterWins(newer, older); got["title"] != "new" {
		t.Errorf("newer local should win, got %v", got["title"])
	}

	// remote wins ties and missing timestamps
	a := map[string]any{"title": "local"}
	b := map[string]any{"title": "remote"}
	if got := LastWriterWins(a, b); got["title"] != "remote" {
		t.Errorf("remote should win ties, got %v", got["title"])
	}
}
