package repository

import (
	"context"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxAttachmentAttempts = 3

// AttachmentJobStore queues attachment downloads for retry across restarts.
type AttachmentJobStore interface {
	SaveJob(ctx context.Context, job *models.AttachmentDownloadJob) error
	GetNextJobs(ctx context.Context, nowMs int64, limit int) ([]models.AttachmentDownloadJob, error)
	SetPending(ctx context.Context, id string) error
	ResetPendingJobs(ctx context.Context) error
	RemoveJob(ctx context.Context, id string) error
	RemoveJobsForMessages(ctx context.Context, messageIDs []string) error
	RemoveAllJobs(ctx context.Context) error
}

type attachmentJobStore struct {
	db *gorm.DB
}

// NewAttachmentJobStore creates a new attachment download job store.
func NewAttachmentJobStore(db *gorm.DB) AttachmentJobStore {
	return &attachmentJobStore{db: db}
}

func (s *attachmentJobStore) SaveJob(ctx context.Context, job *models.AttachmentDownloadJob) error {
	if job.ID == "" || job.MessageID == "" {
		return models.NewValidationError("attachment job requires id and message id")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
}

// GetNextJobs returns due, non-pending jobs that still have attempts left,
// oldest first.
func (s *attachmentJobStore) GetNextJobs(ctx context.Context, nowMs int64, limit int) ([]models.AttachmentDownloadJob, error) {
	var jobs []models.AttachmentDownloadJob
	err := s.db.WithContext(ctx).
		Where("pending = 0 AND attempts < ? AND attempt_timestamp <= ?", maxAttachmentAttempts, nowMs).
		Order("attempt_timestamp ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// SetPending marks a job in flight so concurrent GetNextJobs calls skip it.
func (s *attachmentJobStore) SetPending(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.AttachmentDownloadJob{}).
		Where("id = ?", id).
		Update("pending", 1)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("attachment job", id)
	}
	return nil
}

// ResetPendingJobs clears the in-flight marker on every job. Run at startup:
// anything still marked pending was orphaned by the previous shutdown.
func (s *attachmentJobStore) ResetPendingJobs(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.AttachmentDownloadJob{}).
		Where("pending != 0").
		Update("pending", 0).Error
}

func (s *attachmentJobStore) RemoveJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.AttachmentDownloadJob{}, "id = ?", id).Error
}

// RemoveJobsForMessages drops queued downloads for deleted messages so the
// sweep never resurrects an attachment of a disappeared message.
func (s *attachmentJobStore) RemoveJobsForMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Delete(&models.AttachmentDownloadJob{}).Error
}

// RemoveAllJobs empties the queue, used when storage is reset.
func (s *attachmentJobStore) RemoveAllJobs(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.AttachmentDownloadJob{}).Error
}
