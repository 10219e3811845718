// Package models contains data structures for the application's domain models.
package models

// ConversationKind identifies which flavour of conversation a row represents.
type ConversationKind string

const (
	// KindPrivate is a one-to-one chat keyed by the peer's pubkey.
	KindPrivate ConversationKind = "private"
	// KindLegacyGroup is a pre-v2 closed group.
	KindLegacyGroup ConversationKind = "legacy-group"
	// KindGroupV2 is a v2 closed group (03-prefixed id).
	KindGroupV2 ConversationKind = "group-v2"
	// KindCommunity is a public room keyed by its server URL.
	KindCommunity ConversationKind = "community"
)

// ExpirationMode is the conversation-level disappearing message setting.
type ExpirationMode string

const (
	// ExpirationModeOff disables disappearing messages.
	ExpirationModeOff ExpirationMode = "off"
	// ExpirationModeDeleteAfterSend anchors the timer at send time.
	ExpirationModeDeleteAfterSend ExpirationMode = "deleteAfterSend"
	// ExpirationModeDeleteAfterRead anchors the timer at read time.
	ExpirationModeDeleteAfterRead ExpirationMode = "deleteAfterRead"
)

// LastMessagePreviewLen caps the stored preview of a conversation's last message.
const LastMessagePreviewLen = 300

// Conversation represents a chat conversation (private, group or community).
// Its id is immutable: the peer pubkey, group id or community URL.
type Conversation struct {
	ID   string           `gorm:"primaryKey" json:"id"`
	Kind ConversationKind `gorm:"size:20;not null;default:'private'" json:"kind"`

	// ActiveAt is the sort key of the left pane. 0 means the conversation is inactive.
	ActiveAt int64 `gorm:"index;default:0" json:"active_at"`

	ExpirationMode     ExpirationMode `gorm:"size:20;not null;default:'off'" json:"expiration_mode"`
	ExpireTimerSeconds int64          `gorm:"default:0" json:"expire_timer_seconds"`

	// Priority sorts pinned (>0) and hidden (<0) conversations. 0 is normal.
	Priority       int  `gorm:"default:0" json:"priority"`
	IsApproved     bool `gorm:"default:false" json:"is_approved"`
	DidApproveMe   bool `gorm:"default:false" json:"did_approve_me"`
	MarkedAsUnread bool `gorm:"default:false" json:"marked_as_unread"`

	DisplayName string `gorm:"size:120" json:"display_name"`
	Nickname    string `gorm:"size:120" json:"nickname"`

	LastMessage string `gorm:"size:300" json:"last_message"`

	Members     StringList `gorm:"type:text" json:"members"`
	GroupAdmins StringList `gorm:"type:text" json:"group_admins"`
}

// TableName specifies the table name for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// IsPrivate reports whether the conversation is a one-to-one chat.
func (c *Conversation) IsPrivate() bool {
	return c.Kind == KindPrivate
}

// IsClosedGroup reports whether the conversation is a legacy or v2 closed group.
func (c *Conversation) IsClosedGroup() bool {
	return c.Kind == KindLegacyGroup || c.Kind == KindGroupV2
}

// IsCommunity reports whether the conversation is a public room.
// Disappearing messages are never supported there.
func (c *Conversation) IsCommunity() bool {
	return c.Kind == KindCommunity
}

// MemoryDetails is the derived read-state recomputed on every conversation save
// or fetch. It is never persisted on the conversation row itself.
type MemoryDetails struct {
	UnreadCount       int64 `json:"unread_count"`
	MentionedUs       bool  `json:"mentioned_us"`
	LastReadTimestamp int64 `json:"last_read_timestamp"`
}

// TruncateLastMessage enforces the preview length cap before a save.
func TruncateLastMessage(preview string) string {
	runes := []rune(preview)
	if len(runes) <= LastMessagePreviewLen {
		return preview
	}
	return string(runes[:LastMessagePreviewLen])
}
