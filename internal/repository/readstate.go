package repository

import (
	"context"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
)

func (s *messageStore) UnreadCount(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND unread = ?", conversationID, models.UnreadMessage).
		Count(&count).Error
	return count, err
}

// FirstUnreadMessageID returns the oldest unread message in the conversation,
// or empty when everything is read.
func (s *messageStore) FirstUnreadMessageID(ctx context.Context, conversationID string) (string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND unread = ?", conversationID, models.UnreadMessage).
		Order(orderingExpr + " ASC").Limit(1).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// FirstUnreadWithMention returns the oldest unread message that mentions us,
// nil when none does.
func (s *messageStore) FirstUnreadWithMention(ctx context.Context, conversationID string) (*models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND unread = ? AND mentions_us = ?",
			conversationID, models.UnreadMessage, true).
		Order(orderingExpr + " ASC").Limit(1).
		Find(&msgs).Error
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// LastReadTimestamp is the ordering key of the newest read message, 0 when
// nothing has been read yet.
func (s *messageStore) LastReadTimestamp(ctx context.Context, conversationID string) (int64, error) {
	var row struct{ TS int64 }
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Select(orderingExpr+" AS ts").
		Where("conversation_id = ? AND unread = ?", conversationID, models.ReadMessage).
		Order(orderingExpr + " DESC").Limit(1).
		Scan(&row).Error
	return row.TS, err
}

// MarkAllRead flips every unread message in the conversation in one
// transaction. When returnSentAt is true it returns the sent timestamps of
// the flipped messages, which callers feed to read receipts and to the
// disappearing-message start logic. Expiry fields are not touched here.
func (s *messageStore) MarkAllRead(ctx context.Context, conversationID string, returnSentAt bool) ([]int64, error) {
	defer s.metrics.TrackQuery("mark_all_read", "messages")()

	var sentAt []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if returnSentAt {
			if err := tx.Model(&models.Message{}).
				Where("conversation_id = ? AND unread = ?", conversationID, models.UnreadMessage).
				Order(orderingExpr + " ASC").
				Pluck("sent_at", &sentAt).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Message{}).
			Where("conversation_id = ? AND unread = ?", conversationID, models.UnreadMessage).
			Update("unread", models.ReadMessage).Error
	})
	if err != nil {
		s.log.LogError(ctx, err, "mark_all_read")
		return nil, err
	}
	s.log.LogWrite(ctx, "mark_all_read", map[string]interface{}{
		"conversation_id": conversationID, "flipped": len(sentAt),
	})
	return sentAt, nil
}

// UpdateMessageExpiry stores absolute expiry values. Absolute writes keep the
// operation idempotent: replaying the same update is harmless.
func (s *messageStore) UpdateMessageExpiry(ctx context.Context, id string, startTimestamp, expiresAt int64, markRead bool) error {
	updates := map[string]interface{}{
		"expiration_start_timestamp": startTimestamp,
		"expires_at":                 expiresAt,
	}
	if markRead {
		updates["unread"] = models.ReadMessage
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("message", id)
	}
	return nil
}
