package repository

import (
	"context"
	"errors"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HashStore tracks which swarm message hashes we have processed and where
// polling left off per swarm node.
type HashStore interface {
	SaveSeenHashes(ctx context.Context, hashes []models.SeenMessageHash) error
	FilterSeenHashes(ctx context.Context, conversationID string, hashes []string) ([]string, error)
	ClearExpiredSeenHashes(ctx context.Context, nowMs int64) (int64, error)

	UpdateLastHash(ctx context.Context, lastHash *models.LastHash) error
	GetLastHashBySnode(ctx context.Context, conversationID, snode string, namespace int) (string, error)
	ClearLastHashesForConversation(ctx context.Context, conversationID string) error
}

type hashStore struct {
	db *gorm.DB
}

// NewHashStore creates a new hash store.
func NewHashStore(db *gorm.DB) HashStore {
	return &hashStore{db: db}
}

func (s *hashStore) SaveSeenHashes(ctx context.Context, hashes []models.SeenMessageHash) error {
	if len(hashes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&hashes).Error
}

// FilterSeenHashes returns the subset of hashes we have NOT seen yet, in input
// order. Pollers feed the swarm batch through this before ingesting. A hash
// carried by a stored message row counts as seen even after its seen-hash row
// expired, so a long-lived message is never re-ingested as a duplicate.
func (s *hashStore) FilterSeenHashes(ctx context.Context, conversationID string, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	var seen []string
	err := s.db.WithContext(ctx).Model(&models.SeenMessageHash{}).
		Where("conversation_id = ? AND hash IN ?", conversationID, hashes).
		Pluck("hash", &seen).Error
	if err != nil {
		return nil, err
	}
	var onMessages []string
	err = s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_hash IN ?", hashes).
		Pluck("message_hash", &onMessages).Error
	if err != nil {
		return nil, err
	}
	seenSet := make(map[string]bool, len(seen)+len(onMessages))
	for _, h := range seen {
		seenSet[h] = true
	}
	for _, h := range onMessages {
		seenSet[h] = true
	}
	var unseen []string
	for _, h := range hashes {
		if !seenSet[h] {
			unseen = append(unseen, h)
		}
	}
	return unseen, nil
}

func (s *hashStore) ClearExpiredSeenHashes(ctx context.Context, nowMs int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", nowMs).
		Delete(&models.SeenMessageHash{})
	return res.RowsAffected, res.Error
}

func (s *hashStore) UpdateLastHash(ctx context.Context, lastHash *models.LastHash) error {
	if lastHash.ConversationID == "" || lastHash.Snode == "" {
		return models.NewValidationError("last hash requires a conversation and snode")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(lastHash).Error
}

func (s *hashStore) GetLastHashBySnode(ctx context.Context, conversationID, snode string, namespace int) (string, error) {
	var row models.LastHash
	err := s.db.WithContext(ctx).
		First(&row, "conversation_id = ? AND snode = ? AND namespace = ?",
			conversationID, snode, namespace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Hash, nil
}

func (s *hashStore) ClearLastHashesForConversation(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&models.LastHash{}).Error
}
