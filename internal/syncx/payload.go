package syncx

import (
	"strconv"
	"strings"
	"time"
)

// MaxDepth bounds every payload traversal. Content payloads are arbitrary
// client JSON; the bound keeps pathological or cyclic inputs from blowing
// the stack.
const MaxDepth = 20

// GetString safely extracts a string value from a map
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// GetMap safely extracts a nested map from a map
func GetMap(m map[string]any, k string) (map[string]any, bool) {
	if v, ok := m[k]; ok {
		if mm, ok2 := v.(map[string]any); ok2 {
			return mm, true
		}
	}
	return nil, false
}

// RFC3339 converts Unix milliseconds to RFC3339 timestamp string
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// NowMs returns current Unix milliseconds timestamp (UTC)
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// ParseTimeToMs converts various time formats to Unix milliseconds
// Accepts: RFC3339, numeric milliseconds (as string), empty (returns 0)
func ParseTimeToMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().UnixMilli(), true
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, true
	}

	return 0, false
}

// sensitiveFragments are matched case-insensitively against field names.
// A matching field is dropped entirely rather than masked, so redacted
// payloads never leak even the shape of a credential.
var sensitiveFragments = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"api_key",
	"credential",
	"private_key",
	"privatekey",
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of the payload with every sensitive field
// omitted, at any nesting level. The input is never mutated.
func Redact(m map[string]any) map[string]any {
	out, _ := redactValue(m, 0).(map[string]any)
	return out
}

func redactValue(v any, depth int) any {
	if depth >= MaxDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if isSensitiveField(k) {
				continue
			}
			out[k] = redactValue(vv, depth+1)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			out = append(out, redactValue(vv, depth+1))
		}
		return out
	default:
		return v
	}
}

// Clone returns a depth-bounded deep copy of an arbitrary JSON value.
func Clone(v any) any {
	return cloneValue(v, 0)
}

func cloneValue(v any, depth int) any {
	if depth >= MaxDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv, depth+1)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			out = append(out, cloneValue(vv, depth+1))
		}
		return out
	default:
		return v
	}
}

// RewriteStrings returns a deep copy of v with every occurrence of `from`
// inside string values replaced by `to`. Non-string leaves pass through.
func RewriteStrings(v any, from, to string) any {
	if from == "" || from == to {
		return Clone(v)
	}
	return rewriteValue(v, from, to, 0)
}

func rewriteValue(v any, from, to string, depth int) any {
	if depth >= MaxDepth {
		return nil
	}
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, from, to)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = rewriteValue(vv, from, to, depth+1)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, vv := range t {
			out = append(out, rewriteValue(vv, from, to, depth+1))
		}
		return out
	default:
		return v
	}
}

// CollectStrings walks v and calls fn for every string leaf.
func CollectStrings(v any, fn func(s string)) {
	collectStrings(v, fn, 0)
}

func collectStrings(v any, fn func(s string), depth int) {
	if depth >= MaxDepth {
		return
	}
	switch t := v.(type) {
	case string:
		fn(t)
	case map[string]any:
		for _, vv := range t {
			collectStrings(vv, fn, depth+1)
		}
	case []any:
		for _, vv := range t {
			collectStrings(vv, fn, depth+1)
		}
	}
}
