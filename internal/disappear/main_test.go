package disappear

import (
	"context"
	"sync"
	"testing"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/swarm"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	err = db.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.Item{},
		&models.SeenMessageHash{},
		&models.LastHash{},
		&models.AttachmentDownloadJob{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

// recordingRemover captures the attachment paths handed to DeleteFiles.
type recordingRemover struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRemover) DeleteFiles(ctx context.Context, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, paths...)
}

// stubExpiryService replays canned swarm responses.
type stubExpiryService struct {
	mu      sync.Mutex
	calls   [][]swarm.ExpiringDetail
	updates []swarm.UpdatedExpiry
	err     error
}

func (s *stubExpiryService) ShortenExpiry(ctx context.Context, details []swarm.ExpiringDetail) ([]swarm.UpdatedExpiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, details)
	if s.err != nil {
		return nil, s.err
	}
	return s.updates, nil
}

func (s *stubExpiryService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
