package syncx

import (
	"errors"
	"fmt"
)

// Operations carried in the message envelope.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpPublish   = "publish"
	OpHeartbeat = "heartbeat"
)

// MasterPeerID is the reserved shipId used by the shore instance.
const MasterPeerID = "master"

// Message is the envelope exchanged on the bus between master and replicas.
// Data is arbitrary content JSON with sensitive fields already removed by
// the producing side; it is nil for deletes and heartbeats.
type Message struct {
	MessageID   string       `json:"messageId"`
	ShipID      string       `json:"shipId"`
	Timestamp   string       `json:"timestamp"`
	Operation   string       `json:"operation"`
	ContentType string       `json:"contentType,omitempty"`
	ContentID   string       `json:"contentId,omitempty"`
	Version     int64        `json:"version"`
	Data        map[string]any `json:"data,omitempty"`
	Locale      *string      `json:"locale,omitempty"`
	FileRecords []FileRecord `json:"fileRecords,omitempty"`
}

// FileRecord describes an object in either store, used for propagating
// CMS file relations from a replica to the master. Hash is the primary
// de-duplication key on the receiving side.
type FileRecord struct {
	ID               string         `json:"id"`
	DocumentID       string         `json:"documentId,omitempty"`
	Name             string         `json:"name"`
	Hash             string         `json:"hash"`
	Ext              string         `json:"ext,omitempty"`
	Mime             string         `json:"mime,omitempty"`
	Size             int64          `json:"size,omitempty"`
	URL              string         `json:"url"`
	PreviewURL       *string        `json:"previewUrl,omitempty"`
	Width            int            `json:"width,omitempty"`
	Height           int            `json:"height,omitempty"`
	Formats          map[string]any `json:"formats,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
	FolderPath       string         `json:"folderPath,omitempty"`
	AlternativeText  *string        `json:"alternativeText,omitempty"`
	Caption          *string        `json:"caption,omitempty"`
}

// NewMessageID builds a globally unique message id from the producing
// peer, the current millisecond timestamp, and the entity id.
func NewMessageID(peerID, contentID string) string {
	return fmt.Sprintf("%s-%d-%s", peerID, NowMs(), contentID)
}

// ValidOperation reports whether op is a recognized content operation.
// Heartbeats are not content operations.
func ValidOperation(op string) bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpPublish:
		return true
	}
	return false
}

// Validate checks the envelope schema before the message enters the
// apply path. Heartbeats only need an origin.
func (m *Message) Validate() error {
	if m.ShipID == "" {
		return errors.New("missing shipId")
	}
	if m.Operation == OpHeartbeat {
		return nil
	}
	if m.MessageID == "" {
		return errors.New("missing messageId")
	}
	if !ValidOperation(m.Operation) {
		return fmt.Errorf("invalid operation: %q", m.Operation)
	}
	if m.ContentType == "" {
		return errors.New("missing contentType")
	}
	if m.ContentID == "" {
		return errors.New("missing contentId")
	}
	if m.Operation != OpDelete && m.Data == nil {
		return fmt.Errorf("missing data for %s", m.Operation)
	}
	return nil
}

// Heartbeat builds a liveness message for the given peer.
func Heartbeat(peerID string) *Message {
	return &Message{
		MessageID: NewMessageID(peerID, "heartbeat"),
		ShipID:    peerID,
		Timestamp: RFC3339(NowMs()),
		Operation: OpHeartbeat,
	}
}
