package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Direction tells whether a message was sent by us or received.
type Direction string

const (
	// DirectionIncoming marks a received message.
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing marks a message we sent.
	DirectionOutgoing Direction = "outgoing"
)

// ExpirationType is the wire-level disappearing message type. The wire format
// historically only carries two usable modes, hence "unknown" standing in for off.
type ExpirationType string

const (
	// ExpirationTypeUnknown means the message does not disappear.
	ExpirationTypeUnknown ExpirationType = "unknown"
	// ExpirationTypeDeleteAfterSend starts the timer when the message is stored.
	ExpirationTypeDeleteAfterSend ExpirationType = "deleteAfterSend"
	// ExpirationTypeDeleteAfterRead starts the timer when the message is read.
	ExpirationTypeDeleteAfterRead ExpirationType = "deleteAfterRead"
)

// MessageKind is the variant tag of a message, resolved once at ingestion so
// consumers never re-derive it from flags.
type MessageKind string

const (
	// KindRegular is a plain user-visible chat message.
	KindRegular MessageKind = "regular"
	// KindExpirationTimerUpdate announces a disappearing-message setting change.
	KindExpirationTimerUpdate MessageKind = "expirationTimerUpdate"
	// KindGroupUpdate is a group control message (join, kick, name change, ...).
	KindGroupUpdate MessageKind = "groupUpdate"
	// KindCall is a locally stored call notification.
	KindCall MessageKind = "call"
	// KindDataExtraction is a screenshot/media-saved notification.
	KindDataExtraction MessageKind = "dataExtraction"
)

// Unread states stored on the message row.
const (
	ReadMessage   = 0
	UnreadMessage = 1
)

// Message represents a chat message. Its id is locally generated and distinct
// from the network hash used for swarm accounting.
type Message struct {
	ID             string `gorm:"primaryKey" json:"id"`
	ConversationID string `gorm:"not null;index:idx_messages_convo_order,priority:1;index:idx_messages_unread,priority:2" json:"conversation_id"`

	Source    string      `gorm:"size:120" json:"source"`
	Direction Direction   `gorm:"size:10;not null;default:'incoming'" json:"direction"`
	Kind      MessageKind `gorm:"size:30;not null;default:'regular'" json:"kind"`

	SentAt          int64 `gorm:"index" json:"sent_at"`
	ReceivedAt      int64 `json:"received_at"`
	ServerTimestamp int64 `gorm:"index:idx_messages_convo_order,priority:2" json:"server_timestamp"`

	Body        string         `gorm:"type:text" json:"body"`
	Attachments AttachmentList `gorm:"type:text" json:"attachments"`
	Quote       *Quote         `gorm:"type:text" json:"quote,omitempty"`

	Unread     int  `gorm:"index:idx_messages_unread,priority:1;default:0" json:"unread"`
	MentionsUs bool `gorm:"index:idx_messages_mention_unread;default:false" json:"mentions_us"`

	// MessageHash is the swarm dedup/expiry key. Required for any message that
	// must be reconciled against the swarm's TTL.
	MessageHash string `gorm:"index" json:"message_hash,omitempty"`

	ExpirationType           ExpirationType `gorm:"size:20;not null;default:'unknown'" json:"expiration_type"`
	ExpireTimerSeconds       int64          `gorm:"default:0" json:"expire_timer_seconds"`
	ExpirationStartTimestamp *int64         `json:"expiration_start_timestamp,omitempty"`
	ExpiresAt                *int64         `gorm:"index" json:"expires_at,omitempty"`

	Errors string `gorm:"type:text" json:"errors,omitempty"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// NewMessage builds a message with a fresh local id and every field defaulted,
// so callers never rely on zero values carrying meaning.
func NewMessage(conversationID string, direction Direction) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Direction:      direction,
		Kind:           KindRegular,
		Unread:         ReadMessage,
		ExpirationType: ExpirationTypeUnknown,
		Attachments:    AttachmentList{},
	}
}

// OrderingKey is the chronological key used for all display and "most recent"
// queries: coalesce(serverTimestamp, sentAt, receivedAt).
func (m *Message) OrderingKey() int64 {
	if m.ServerTimestamp > 0 {
		return m.ServerTimestamp
	}
	if m.SentAt > 0 {
		return m.SentAt
	}
	return m.ReceivedAt
}

// IsControlMessage reports whether the message is a control variant rather than
// user content.
func (m *Message) IsControlMessage() bool {
	return m.Kind != KindRegular && m.Kind != ""
}

// IsIncoming reports whether the message was received from the network.
func (m *Message) IsIncoming() bool {
	return m.Direction == DirectionIncoming
}

// IsUnread reports the unread flag as a boolean.
func (m *Message) IsUnread() bool {
	return m.Unread == UnreadMessage
}

// Attachment references an on-disk attachment file.
type Attachment struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	IsVisual    bool   `json:"is_visual,omitempty"`
}

// Quote references the message being replied to.
type Quote struct {
	ID     int64  `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text,omitempty"`
}

// Scan implements sql.Scanner for Quote stored as JSON text.
func (q *Quote) Scan(value any) error {
	return scanJSON(value, q)
}

// Value implements driver.Valuer for Quote stored as JSON text.
func (q Quote) Value() (driver.Value, error) {
	return json.Marshal(q)
}

// AttachmentList is a JSON-encoded list of attachments.
type AttachmentList []Attachment

// Scan implements sql.Scanner.
func (l *AttachmentList) Scan(value any) error {
	return scanJSON(value, l)
}

// Value implements driver.Valuer.
func (l AttachmentList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// FilePaths returns the non-empty on-disk paths of the list.
func (l AttachmentList) FilePaths() []string {
	var paths []string
	for _, a := range l {
		if a.Path != "" {
			paths = append(paths, a.Path)
		}
	}
	return paths
}

// StringList is a JSON-encoded list of strings (members, admins).
type StringList []string

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	return scanJSON(value, l)
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}
