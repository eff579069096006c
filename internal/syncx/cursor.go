package syncx

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor represents a position in a change stream, used by the management
// pull endpoint for deterministic pagination.
// Format: base64("<updated_at_ms>|<content_id>")
type Cursor struct {
	Ms int64  // Unix milliseconds timestamp
	ID string // entity id (breaks ties within the same timestamp)
}

// EncodeCursor creates a base64-encoded cursor string
// Returns empty string for zero-value cursor
func EncodeCursor(c Cursor) string {
	if c.Ms == 0 && c.ID == "" {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.Ms, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor string
// Returns zero-value cursor and false if invalid or empty
func DecodeCursor(s string) (Cursor, bool) {
	if s == "" {
		return Cursor{}, false
	}

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false
	}

	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, false
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, false
	}

	return Cursor{Ms: ms, ID: parts[1]}, true
}
