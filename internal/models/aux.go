package models

// Item is a durable key/value setting (feature toggles, graceful-shutdown flag,
// our identity pubkey).
type Item struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Value string `gorm:"type:text" json:"value"`
}

// TableName specifies the table name for GORM.
func (Item) TableName() string {
	return "items"
}

// Well-known item ids.
const (
	ItemGracefulShutdown = "gracefulShutdown"
	ItemOurPubkey        = "ourPubkey"
	ItemFeatureFlags     = "featureFlags"
)

// SeenMessageHash records a swarm hash we already processed, so polling the
// same node again does not re-ingest the message. Rows expire with the swarm TTL.
type SeenMessageHash struct {
	Hash           string `gorm:"primaryKey" json:"hash"`
	ConversationID string `gorm:"index;not null" json:"conversation_id"`
	ExpiresAt      int64  `gorm:"index;not null" json:"expires_at"`
}

// TableName specifies the table name for GORM.
func (SeenMessageHash) TableName() string {
	return "seen_messages"
}

// LastHash is the newest hash we retrieved per (conversation, swarm node,
// namespace), used to resume polling where we left off.
type LastHash struct {
	ConversationID string `gorm:"primaryKey" json:"conversation_id"`
	Snode          string `gorm:"primaryKey" json:"snode"`
	Namespace      int    `gorm:"primaryKey" json:"namespace"`
	Hash           string `gorm:"not null" json:"hash"`
	ExpiresAt      int64  `gorm:"index" json:"expires_at"`
}

// TableName specifies the table name for GORM.
func (LastHash) TableName() string {
	return "last_hashes"
}

// AttachmentDownloadJob is a pending attachment fetch, retried with a capped
// attempt count.
type AttachmentDownloadJob struct {
	ID               string `gorm:"primaryKey" json:"id"`
	MessageID        string `gorm:"index;not null" json:"message_id"`
	Pending          int    `gorm:"default:0" json:"pending"`
	Attempts         int    `gorm:"default:0" json:"attempts"`
	AttemptTimestamp int64  `gorm:"index" json:"attempt_timestamp"`
	Payload          string `gorm:"type:text" json:"payload"`
}

// TableName specifies the table name for GORM.
func (AttachmentDownloadJob) TableName() string {
	return "attachment_downloads"
}
