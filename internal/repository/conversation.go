package repository

import (
	"context"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const conversationSearchLimit = 50

// ConversationWithDetails pairs a conversation row with the derived read-state
// computed in the same unit of work.
type ConversationWithDetails struct {
	models.Conversation
	Details models.MemoryDetails `json:"details"`
}

// ConversationStore defines the interface for conversation data operations.
type ConversationStore interface {
	SaveConversation(ctx context.Context, convo *models.Conversation) (*ConversationWithDetails, error)
	GetConversation(ctx context.Context, id string) (*ConversationWithDetails, error)
	GetAllConversations(ctx context.Context) ([]ConversationWithDetails, error)
	SearchConversations(ctx context.Context, query string) ([]models.Conversation, error)
	RemoveConversation(ctx context.Context, id string) error
}

type conversationStore struct {
	db      *gorm.DB
	opts    StoreOptions
	log     *observability.StoreLogger
	metrics *observability.DatabaseMetrics
}

// NewConversationStore creates a new conversation store.
func NewConversationStore(db *gorm.DB, opts StoreOptions) ConversationStore {
	return &conversationStore{
		db:      db,
		opts:    opts,
		log:     observability.NewStoreLogger("conversations"),
		metrics: observability.NewDatabaseMetrics(db),
	}
}

func (s *conversationStore) details(tx *gorm.DB, id string) (models.MemoryDetails, error) {
	var d models.MemoryDetails

	if err := tx.Model(&models.Message{}).
		Where("conversation_id = ? AND unread = ?", id, models.UnreadMessage).
		Count(&d.UnreadCount).Error; err != nil {
		return d, err
	}

	if d.UnreadCount > 0 {
		var mentions int64
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ? AND unread = ? AND mentions_us = ?",
				id, models.UnreadMessage, true).
			Limit(1).Count(&mentions).Error; err != nil {
			return d, err
		}
		d.MentionedUs = mentions > 0
	}

	var row struct{ TS int64 }
	if err := tx.Model(&models.Message{}).
		Select(orderingExpr+" AS ts").
		Where("conversation_id = ? AND unread = ?", id, models.ReadMessage).
		Order(orderingExpr + " DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return d, err
	}
	d.LastReadTimestamp = row.TS
	return d, nil
}

// normalizeExpirationSetting keeps the persisted setting coherent: the mode is
// off exactly when the timer is zero, and communities never expire.
func normalizeExpirationSetting(convo *models.Conversation) {
	if convo.IsCommunity() ||
		convo.ExpirationMode == "" ||
		convo.ExpirationMode == models.ExpirationModeOff ||
		convo.ExpireTimerSeconds <= 0 {
		convo.ExpirationMode = models.ExpirationModeOff
		convo.ExpireTimerSeconds = 0
	}
}

// SaveConversation upserts the row and recomputes the derived read-state in
// the same transaction, so callers always see a count consistent with the
// write that triggered the save.
func (s *conversationStore) SaveConversation(ctx context.Context, convo *models.Conversation) (*ConversationWithDetails, error) {
	if convo.ID == "" {
		return nil, models.NewValidationError("conversation id is required")
	}
	defer s.metrics.TrackQuery("save", "conversations")()

	convo.LastMessage = models.TruncateLastMessage(convo.LastMessage)
	normalizeExpirationSetting(convo)

	var result ConversationWithDetails
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(convo).Error; err != nil {
			return err
		}
		details, err := s.details(tx, convo.ID)
		if err != nil {
			return err
		}
		result = ConversationWithDetails{Conversation: *convo, Details: details}
		return nil
	})
	if err != nil {
		s.log.LogError(ctx, err, "save")
		return nil, err
	}
	s.log.LogWrite(ctx, "save", map[string]interface{}{"conversation_id": convo.ID})
	return &result, nil
}

func (s *conversationStore) GetConversation(ctx context.Context, id string) (*ConversationWithDetails, error) {
	var convo models.Conversation
	err := s.db.WithContext(ctx).First(&convo, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	details, err := s.details(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return &ConversationWithDetails{Conversation: convo, Details: details}, nil
}

// GetAllConversations returns every conversation with derived state, most
// recently active first.
func (s *conversationStore) GetAllConversations(ctx context.Context) ([]ConversationWithDetails, error) {
	defer s.metrics.TrackQuery("fetch_all", "conversations")()

	var convos []models.Conversation
	err := s.db.WithContext(ctx).
		Order("active_at DESC").
		Find(&convos).Error
	if err != nil {
		return nil, err
	}
	results := make([]ConversationWithDetails, 0, len(convos))
	for _, c := range convos {
		details, derr := s.details(s.db.WithContext(ctx), c.ID)
		if derr != nil {
			return nil, derr
		}
		results = append(results, ConversationWithDetails{Conversation: c, Details: details})
	}
	return results, nil
}

// SearchConversations matches display name, nickname or id by substring. This
// intentionally stays a LIKE scan: the table is small and fts tokenization
// mangles pubkeys.
func (s *conversationStore) SearchConversations(ctx context.Context, query string) ([]models.Conversation, error) {
	if query == "" {
		return nil, models.NewValidationError("search query is required")
	}
	pattern := "%" + query + "%"
	var convos []models.Conversation
	err := s.db.WithContext(ctx).
		Where("active_at > 0").
		Where("display_name LIKE ? OR nickname LIKE ? OR id LIKE ?", pattern, pattern, pattern).
		Order("COALESCE(NULLIF(nickname, ''), display_name) COLLATE NOCASE ASC").
		Limit(conversationSearchLimit).
		Find(&convos).Error
	return convos, err
}

// RemoveConversation deletes the row and everything hanging off it: messages,
// their full-text shadow rows, seen hashes and per-snode last hashes. One
// transaction, so a crash never leaves orphans.
func (s *conversationStore) RemoveConversation(ctx context.Context, id string) error {
	if id == "" {
		return models.NewValidationError("conversation id is required")
	}
	defer s.metrics.TrackQuery("remove", "conversations")()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.opts.FTSEnabled {
			if err := tx.Exec(
				"DELETE FROM messages_fts WHERE rowid IN (SELECT rowid FROM messages WHERE conversation_id = ?)",
				id,
			).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.SeenMessageHash{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.LastHash{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, "id = ?", id).Error
	})
	if err != nil {
		s.log.LogError(ctx, err, "remove")
		return err
	}
	s.log.LogWrite(ctx, "remove", map[string]interface{}{"conversation_id": id})
	return nil
}
