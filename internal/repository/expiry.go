package repository

import (
	"context"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
)

// GetExpiredMessages returns every message whose deadline has passed, oldest
// deadline first. The sweep deletes them in this order so partial failures
// leave the oldest garbage gone first.
func (s *messageStore) GetExpiredMessages(ctx context.Context, nowMs int64) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", nowMs).
		Order("expires_at ASC").
		Find(&msgs).Error
	return msgs, err
}

// GetNextExpiringMessage returns the message with the soonest deadline, nil
// when nothing is scheduled to disappear.
func (s *messageStore) GetNextExpiringMessage(ctx context.Context) (*models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL").
		Order("expires_at ASC").Limit(1).
		Find(&msgs).Error
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// GetOutgoingWithoutExpiresAt finds sent messages that have a timer but never
// got a deadline, typically because the app died between send and the swarm
// acknowledgement. Startup repair gives them one.
func (s *messageStore) GetOutgoingWithoutExpiresAt(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("direction = ? AND expire_timer_seconds > 0 AND expires_at IS NULL",
			models.DirectionOutgoing).
		Find(&msgs).Error
	return msgs, err
}

// GetReconciliationCandidates returns read delete-after-read messages that may
// need their deadline pulled in to match the swarm. Eligibility requires a
// known swarm hash, a started timer and the incoming direction; anything else
// has no authoritative remote record to reconcile against.
func (s *messageStore) GetReconciliationCandidates(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("message_hash != '' AND direction = ? AND expiration_type = ?",
			models.DirectionIncoming, models.ExpirationTypeDeleteAfterRead).
		Where("expiration_start_timestamp IS NOT NULL AND expiration_start_timestamp > 0").
		Where("expire_timer_seconds > 0").
		Find(&msgs).Error
	return msgs, err
}

// CleanupUnreadExpiredDeleteAfterRead purges unread delete-after-read messages
// older than the wall-clock cutoff. Their timer never started locally, but a
// device that sat offline past the sender's timer window should not resurrect
// messages every other device already destroyed.
func (s *messageStore) CleanupUnreadExpiredDeleteAfterRead(ctx context.Context, olderThanMs int64) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Message{}).
			Where("expiration_type = ? AND unread = ? AND sent_at <= ?",
				models.ExpirationTypeDeleteAfterRead, models.UnreadMessage, olderThanMs).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := s.dropFTSByIDs(tx, ids); err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Message{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		s.log.LogError(ctx, err, "cleanup_unread_expired")
		return 0, err
	}
	if deleted > 0 {
		s.log.LogWrite(ctx, "cleanup_unread_expired", map[string]interface{}{"deleted": deleted})
	}
	return deleted, nil
}

// CleanupExpirationTimerUpdateHistory keeps only the latest timer-update
// control message per sender in a private chat, or a single one for the whole
// conversation in groups where the setting is shared. Returns the ids it
// removed.
func (s *messageStore) CleanupExpirationTimerUpdateHistory(ctx context.Context, conversationID string, isPrivate bool) ([]string, error) {
	var removed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updates []models.Message
		if err := tx.
			Where("conversation_id = ? AND kind = ?", conversationID, models.KindExpirationTimerUpdate).
			Order(orderingExpr + " DESC").
			Find(&updates).Error; err != nil {
			return err
		}
		keep := map[string]bool{}
		for _, m := range updates {
			key := ""
			if isPrivate {
				key = m.Source
			}
			if keep[key] {
				removed = append(removed, m.ID)
				continue
			}
			keep[key] = true
		}
		if len(removed) == 0 {
			return nil
		}
		if err := s.dropFTSByIDs(tx, removed); err != nil {
			return err
		}
		return tx.Where("id IN ?", removed).Delete(&models.Message{}).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *messageStore) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).Count(&count).Error
	return count, err
}

func (s *messageStore) MessagesCountByConversation(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

func (s *messageStore) HasConversationOutgoingMessage(ctx context.Context, conversationID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ?", conversationID, models.DirectionOutgoing).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}
