package repository

import (
	"log"
	"strings"
	"testing"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB opens a fresh in-memory store and reports whether this SQLite
// build has FTS5. Tests needing search skip when it does not.
func setupTestDB(t *testing.T) (*gorm.DB, bool) {
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

	ftsEnabled := true
	if err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(body)").Error; err != nil {
		if strings.Contains(err.Error(), "no such module") {
			ftsEnabled = false
			log.Printf("FTS tests skipped: SQLite build lacks fts5")
		} else {
			t.Fatalf("Failed to create FTS table: %v", err)
		}
	}

	return db, ftsEnabled
}

func testStoreOptions(fts bool) StoreOptions {
	return StoreOptions{OurPubkey: "05ourpubkey", FTSEnabled: fts}
}

func int64Ptr(v int64) *int64 { return &v }
