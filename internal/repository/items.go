package repository

import (
	"context"
	"errors"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemStore is the durable key/value settings table.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (string, bool, error)
	PutItem(ctx context.Context, id, value string) error
	RemoveItem(ctx context.Context, id string) error
}

type itemStore struct {
	db *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(db *gorm.DB) ItemStore {
	return &itemStore{db: db}
}

func (s *itemStore) GetItem(ctx context.Context, id string) (string, bool, error) {
	var item models.Item
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return item.Value, true, nil
}

func (s *itemStore) PutItem(ctx context.Context, id, value string) error {
	if id == "" {
		return models.NewValidationError("item id is required")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.Item{ID: id, Value: value}).Error
}

func (s *itemStore) RemoveItem(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.Item{}, "id = ?", id).Error
}
