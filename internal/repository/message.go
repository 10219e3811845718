package repository

import (
	"context"
	"strings"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Page sizing for conversation fetches. A conversation below the floor is
// returned whole so scrolling small chats never re-queries; larger ones are
// paged to bound memory.
const (
	pageLimit            = 30
	loadAllMessagesFloor = 70
)

// MessagePage is the result of a conversation fetch.
type MessagePage struct {
	Messages             []models.Message
	Quotes               []models.Quote
	FirstUnreadMessageID string
	OldestMessageID      string
	MostRecentMessageID  string
}

// GetMessagesOptions control a conversation fetch.
type GetMessagesOptions struct {
	// AnchorMessageID loads a symmetric window around this message instead of
	// the most recent page.
	AnchorMessageID string
	ReturnQuotes    bool
}

// MessageStore defines the interface for message data operations.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	SaveMessages(ctx context.Context, batch []*models.Message) ([]string, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	GetMessagesByIDs(ctx context.Context, ids []string) ([]models.Message, error)
	GetMessagesByHashes(ctx context.Context, hashes []string) ([]models.Message, error)
	GetMessagesByConversation(ctx context.Context, conversationID string, opts GetMessagesOptions) (*MessagePage, error)
	RemoveMessagesByIDs(ctx context.Context, ids []string) error
	RemoveAllMessagesInConversation(ctx context.Context, conversationID string) error
	RemoveAllMessagesInConversationSentBefore(ctx context.Context, conversationID string, beforeSeconds int64) ([]string, error)
	AttachmentPathsInConversation(ctx context.Context, conversationID string) ([]string, error)

	UnreadCount(ctx context.Context, conversationID string) (int64, error)
	FirstUnreadMessageID(ctx context.Context, conversationID string) (string, error)
	FirstUnreadWithMention(ctx context.Context, conversationID string) (*models.Message, error)
	LastReadTimestamp(ctx context.Context, conversationID string) (int64, error)
	MarkAllRead(ctx context.Context, conversationID string, returnSentAt bool) ([]int64, error)
	UpdateMessageExpiry(ctx context.Context, id string, startTimestamp, expiresAt int64, markRead bool) error

	GetExpiredMessages(ctx context.Context, nowMs int64) ([]models.Message, error)
	GetNextExpiringMessage(ctx context.Context) (*models.Message, error)
	GetOutgoingWithoutExpiresAt(ctx context.Context) ([]models.Message, error)
	GetReconciliationCandidates(ctx context.Context) ([]models.Message, error)
	CleanupUnreadExpiredDeleteAfterRead(ctx context.Context, olderThanMs int64) (int64, error)
	CleanupExpirationTimerUpdateHistory(ctx context.Context, conversationID string, isPrivate bool) ([]string, error)

	MessageCount(ctx context.Context) (int64, error)
	MessagesCountByConversation(ctx context.Context, conversationID string) (int64, error)
	HasConversationOutgoingMessage(ctx context.Context, conversationID string) (bool, error)

	SearchMessages(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// messageStore implements MessageStore.
type messageStore struct {
	db      *gorm.DB
	opts    StoreOptions
	log     *observability.StoreLogger
	metrics *observability.DatabaseMetrics
}

// NewMessageStore creates a new message store.
func NewMessageStore(db *gorm.DB, opts StoreOptions) MessageStore {
	return &messageStore{
		db:      db,
		opts:    opts,
		log:     observability.NewStoreLogger("messages"),
		metrics: observability.NewDatabaseMetrics(db),
	}
}

// normalizeExpiry enforces the schema-level expiry invariants before a row is
// committed:
//   - expires_at is set iff a start timestamp is set and the timer is positive
//   - an unread incoming deleteAfterRead message has no start timestamp
func normalizeExpiry(msg *models.Message) {
	if msg.ExpirationType == models.ExpirationTypeDeleteAfterRead &&
		msg.IsIncoming() && msg.IsUnread() {
		msg.ExpirationStartTimestamp = nil
	}
	if msg.ExpirationStartTimestamp == nil || msg.ExpireTimerSeconds <= 0 {
		msg.ExpiresAt = nil
		return
	}
	expiresAt := *msg.ExpirationStartTimestamp + msg.ExpireTimerSeconds*1000
	msg.ExpiresAt = &expiresAt
}

func (s *messageStore) validate(msg *models.Message) error {
	if msg.ID == "" {
		return models.NewValidationError("message id is required")
	}
	if msg.ConversationID == "" {
		return models.NewValidationError("message conversationId is required")
	}
	return nil
}

func (s *messageStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.SaveMessages(ctx, []*models.Message{msg})
	return err
}

// SaveMessages validates, stamps the mentionsUs flag, normalizes expiry fields
// and inserts the whole batch in one transaction, all-or-nothing. The
// full-text shadow rows are maintained inside the same transaction.
func (s *messageStore) SaveMessages(ctx context.Context, batch []*models.Message) ([]string, error) {
	defer s.metrics.TrackQuery("save_batch", "messages")()

	mentionNeedle := ""
	if s.opts.OurPubkey != "" {
		mentionNeedle = "@" + s.opts.OurPubkey
	}

	ids := make([]string, 0, len(batch))
	for _, msg := range batch {
		if err := s.validate(msg); err != nil {
			return nil, err
		}
		if mentionNeedle != "" {
			msg.MentionsUs = strings.Contains(msg.Body, mentionNeedle)
		}
		normalizeExpiry(msg)
		ids = append(ids, msg.ID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, msg := range batch {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(msg).Error; err != nil {
				return err
			}
			if err := s.syncFTSRow(tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.LogError(ctx, err, "save_batch")
		return nil, err
	}
	s.log.LogWrite(ctx, "save_batch", map[string]interface{}{"count": len(batch)})
	return ids, nil
}

func (s *messageStore) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *messageStore) GetMessagesByIDs(ctx context.Context, ids []string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error
	return msgs, err
}

func (s *messageStore) GetMessagesByHashes(ctx context.Context, hashes []string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).Where("message_hash IN ?", hashes).Find(&msgs).Error
	return msgs, err
}

// GetMessagesByConversation returns either the most recent page or a symmetric
// window around the anchor (or the first unread message when one exists).
func (s *messageStore) GetMessagesByConversation(ctx context.Context, conversationID string, opts GetMessagesOptions) (*MessagePage, error) {
	defer s.metrics.TrackQuery("fetch_page", "messages")()

	page := &MessagePage{}

	firstUnread, err := s.FirstUnreadMessageID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	page.FirstUnreadMessageID = firstUnread

	total, err := s.MessagesCountByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	anchorID := opts.AnchorMessageID
	if anchorID == "" {
		anchorID = firstUnread
	}

	if anchorID != "" {
		anchor, ferr := s.GetMessageByID(ctx, anchorID)
		if ferr != nil || anchor.ConversationID != conversationID {
			// Anchor vanished or belongs elsewhere: fall through to the plain
			// most-recent page rather than failing the whole fetch.
			s.log.LogRead(ctx, "fetch_page_anchor_missing", map[string]interface{}{
				"conversation_id": conversationID, "anchor": anchorID,
			})
			anchorID = ""
		} else {
			limit := pageLimit
			if total < loadAllMessagesFloor {
				limit = loadAllMessagesFloor
			}
			ts := anchor.OrderingKey()

			var before, after []models.Message
			if err := s.db.WithContext(ctx).
				Where("conversation_id = ? AND "+orderingExpr+" <= ?", conversationID, ts).
				Order(orderingExpr + " DESC").Limit(limit).
				Find(&before).Error; err != nil {
				return nil, err
			}
			if err := s.db.WithContext(ctx).
				Where("conversation_id = ? AND "+orderingExpr+" > ?", conversationID, ts).
				Order(orderingExpr + " ASC").Limit(limit).
				Find(&after).Error; err != nil {
				return nil, err
			}
			page.Messages = append(before, after...)
			sortMessagesDesc(page.Messages)
		}
	}

	if anchorID == "" {
		limit := pageLimit * 2
		if total < loadAllMessagesFloor {
			limit = loadAllMessagesFloor
		}
		if err := s.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order(orderingExpr + " DESC").Limit(limit).
			Find(&page.Messages).Error; err != nil {
			return nil, err
		}
	}

	if opts.ReturnQuotes {
		seen := map[int64]bool{}
		for _, m := range page.Messages {
			if m.Quote != nil && !seen[m.Quote.ID] {
				seen[m.Quote.ID] = true
				page.Quotes = append(page.Quotes, *m.Quote)
			}
		}
	}

	if len(page.Messages) > 0 {
		page.MostRecentMessageID = page.Messages[0].ID
		page.OldestMessageID = page.Messages[len(page.Messages)-1].ID
	}
	return page, nil
}

func sortMessagesDesc(msgs []models.Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].OrderingKey() > msgs[j-1].OrderingKey(); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// RemoveMessagesByIDs hard deletes; callers clean attachments beforehand.
func (s *messageStore) RemoveMessagesByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return models.NewValidationError("no message ids to delete")
	}
	defer s.metrics.TrackQuery("delete_batch", "messages")()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.dropFTSByIDs(tx, ids); err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Message{}).Error
	})
	if err != nil {
		s.log.LogError(ctx, err, "delete_batch")
		return err
	}
	s.log.LogWrite(ctx, "delete_batch", map[string]interface{}{"count": len(ids)})
	return nil
}

func (s *messageStore) RemoveAllMessagesInConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return models.NewValidationError("conversationId is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.dropFTSByConversation(tx, conversationID); err != nil {
			return err
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&models.Message{}).Error
	})
}

// RemoveAllMessagesInConversationSentBefore supports community pruning and
// returns the deleted ids so callers can notify the UI.
func (s *messageStore) RemoveAllMessagesInConversationSentBefore(ctx context.Context, conversationID string, beforeSeconds int64) ([]string, error) {
	beforeMs := beforeSeconds * 1000
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND sent_at <= ?", conversationID, beforeMs).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.dropFTSByIDs(tx, ids); err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Message{}).Error
	})
	return ids, err
}

func (s *messageStore) AttachmentPathsInConversation(ctx context.Context, conversationID string) ([]string, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Select("attachments").
		Where("conversation_id = ? AND attachments IS NOT NULL AND attachments != '[]'", conversationID).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, m := range msgs {
		paths = append(paths, m.Attachments.FilePaths()...)
	}
	return paths, nil
}
