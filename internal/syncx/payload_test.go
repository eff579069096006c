package syncx

import (
	"reflect"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "top level secrets",
			in: map[string]any{
				"title":    "hello",
				"password": "hunter2",
				"apiKey":   "k-123",
			},
			want: map[string]any{"title": "hello"},
		},
		{
			name: "nested and array secrets",
			in: map[string]any{
				"title": "hello",
				"author": map[string]any{
					"name":               "a",
					"resetPasswordToken": "xyz",
				},
				"links": []any{
					map[string]any{"url": "u", "accessToken": "t"},
				},
			},
			want: map[string]any{
				"title":  "hello",
				"author": map[string]any{"name": "a"},
				"links":  []any{map[string]any{"url": "u"}},
			},
		},
		{
			name: "case insensitive",
			in:   map[string]any{"API_KEY": "x", "ClientSecret": "y", "ok": 1},
			want: map[string]any{"ok": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Redact() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedactDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"a": map[string]any{"password": "p", "b": "c"}}
	Redact(in)
	inner := in["a"].(map[string]any)
	if _, ok := inner["password"]; !ok {
		t.Error("Redact() mutated its input")
	}
}

func TestRewriteStrings(t *testing.T) {
	in := map[string]any{
		"url": "https://master-store.example/uploads/img.jpg",
		"body": []any{
			"see https://master-store.example/uploads/a.png inline",
			42,
		},
		"count": 3,
	}

	got := RewriteStrings(in, "https://master-store.example/uploads", "http://local-store/media").(map[string]any)

	if got["url"] != "http://local-store/media/img.jpg" {
		t.Errorf("url = %v", got["url"])
	}
	body := got["body"].([]any)
	if body[0] != "see http://local-store/media/a.png inline" {
		t.Errorf("body[0] = %v", body[0])
	}
	if body[1] != 42 {
		t.Errorf("body[1] = %v", body[1])
	}
	// original untouched
	if in["url"] != "https://master-store.example/uploads/img.jpg" {
		t.Error("RewriteStrings() mutated its input")
	}
}

func TestRewriteStringsInvolution(t *testing.T) {
	in := map[string]any{
		"a": "https://A/x.jpg",
		"b": []any{"https://A/y.png", "plain"},
		"n": 7,
	}

	round := RewriteStrings(RewriteStrings(in, "https://A", "http://B"), "http://B", "https://A")
	if !reflect.DeepEqual(round, in) {
		t.Errorf("round trip = %v, want %v", round, in)
	}
}

func TestTraversalDepthBound(t *testing.T) {
	// Build a map nested deeper than MaxDepth
	deep := map[string]any{"leaf": "https://A/x"}
	for i := 0; i < MaxDepth+5; i++ {
		deep = map[string]any{"next": deep}
	}

	// Must not panic or recurse forever
	out := RewriteStrings(deep, "https://A", "http://B")
	if out == nil {
		t.Fatal("expected truncated copy, got nil")
	}
	Redact(deep)
	Clone(deep)

	// Cyclic input is also cut off by the depth bound
	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	Clone(cyclic)
	Redact(cyclic)
}

func TestCollectStrings(t *testing.T) {
	in := map[string]any{
		"a": "one",
		"b": []any{"two", map[string]any{"c": "three"}},
		"d": 7,
	}

	seen := map[string]bool{}
	CollectStrings(in, func(s string) { seen[s] = true })

	for _, want := range []string{"one", "two", "three"} {
		if !seen[want] {
			t.Errorf("CollectStrings() missed %q", want)
		}
	}
	if len(seen) != 3 {
		t.Errorf("CollectStrings() saw %d strings, want 3", len(seen))
	}
}

func TestGetStringGetMap(t *testing.T) {
	m := map[string]any{"s": "v", "m": map[string]any{"x": 1}, "n": 2}

	if v, ok := GetString(m, "s"); !ok || v != "v" {
		t.Errorf("GetString(s) = %v, %v", v, ok)
	}
	if _, ok := GetString(m, "n"); ok {
		t.Error("GetString(n) should fail for non-string")
	}
	if mm, ok := GetMap(m, "m"); !ok || mm["x"] != 1 {
		t.Errorf("GetMap(m) = %v, %v", mm, ok)
	}
	if _, ok := GetMap(m, "s"); ok {
		t.Error("GetMap(s) should fail for non-map")
	}
}

func TestRFC3339(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want string
	}{
		{name: "normal timestamp", ms: 1730635200000, want: "2024-11-03T12:00:00Z"},
		{name: "epoch", ms: 0, want: "1970-01-01T00:00:00Z"},
		{name: "with milliseconds", ms: 1730635200123, want: "2024-11-03T12:00:00.123Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RFC3339(tt.ms); got != tt.want {
				t.Errorf("RFC3339() = %v, want %v", got, tt.want)
			}
		})
	}
}
