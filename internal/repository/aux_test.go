package repository

import (
	"context"
	"testing"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemStore(t *testing.T) {
	db, _ := setupTestDB(t)
	items := NewItemStore(db)
	ctx := context.Background()

	_, found, err := items.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, items.PutItem(ctx, models.ItemGracefulShutdown, "true"))
	value, found, err := items.GetItem(ctx, models.ItemGracefulShutdown)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", value)

	require.NoError(t, items.PutItem(ctx, models.ItemGracefulShutdown, "false"))
	value, _, _ = items.GetItem(ctx, models.ItemGracefulShutdown)
	assert.Equal(t, "false", value)

	require.NoError(t, items.RemoveItem(ctx, models.ItemGracefulShutdown))
	_, found, _ = items.GetItem(ctx, models.ItemGracefulShutdown)
	assert.False(t, found)

	assert.True(t, models.IsValidationError(items.PutItem(ctx, "", "v")))
}

func TestHashStore(t *testing.T) {
	db, _ := setupTestDB(t)
	hashes := NewHashStore(db)
	ctx := context.Background()

	t.Run("seen hashes filter and expire", func(t *testing.T) {
		require.NoError(t, hashes.SaveSeenHashes(ctx, []models.SeenMessageHash{
			{Hash: "a", ConversationID: "c", ExpiresAt: 1000},
			{Hash: "b", ConversationID: "c", ExpiresAt: 2000},
		}))
		// Replaying the same batch is harmless.
		require.NoError(t, hashes.SaveSeenHashes(ctx, []models.SeenMessageHash{
			{Hash: "a", ConversationID: "c", ExpiresAt: 1000},
		}))

		unseen, err := hashes.FilterSeenHashes(ctx, "c", []string{"a", "b", "new"})
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, unseen)

		cleared, err := hashes.ClearExpiredSeenHashes(ctx, 1500)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)

		unseen, err = hashes.FilterSeenHashes(ctx, "c", []string{"a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, unseen)
	})

	t.Run("stored message hash counts as seen", func(t *testing.T) {
		messages := NewMessageStore(db, testStoreOptions(false))
		_, err := messages.SaveMessages(ctx, []*models.Message{
			{ID: "m-h1", ConversationID: "c", MessageHash: "H1",
				SentAt: 1000, ReceivedAt: 1000},
		})
		require.NoError(t, err)

		// No seen-hash row for H1, only the message row. Still seen.
		unseen, err := hashes.FilterSeenHashes(ctx, "c", []string{"H1", "H2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"H2"}, unseen)
	})

	t.Run("last hash upsert per snode and namespace", func(t *testing.T) {
		require.NoError(t, hashes.UpdateLastHash(ctx, &models.LastHash{
			ConversationID: "c", Snode: "s1", Namespace: 0, Hash: "first",
		}))
		require.NoError(t, hashes.UpdateLastHash(ctx, &models.LastHash{
			ConversationID: "c", Snode: "s1", Namespace: 0, Hash: "second",
		}))
		require.NoError(t, hashes.UpdateLastHash(ctx, &models.LastHash{
			ConversationID: "c", Snode: "s1", Namespace: 5, Hash: "other-namespace",
		}))

		h, err := hashes.GetLastHashBySnode(ctx, "c", "s1", 0)
		require.NoError(t, err)
		assert.Equal(t, "second", h)

		h, err = hashes.GetLastHashBySnode(ctx, "c", "s1", 5)
		require.NoError(t, err)
		assert.Equal(t, "other-namespace", h)

		h, err = hashes.GetLastHashBySnode(ctx, "c", "s2", 0)
		require.NoError(t, err)
		assert.Empty(t, h)

		require.NoError(t, hashes.ClearLastHashesForConversation(ctx, "c"))
		h, _ = hashes.GetLastHashBySnode(ctx, "c", "s1", 0)
		assert.Empty(t, h)
	})

	t.Run("validation", func(t *testing.T) {
		err := hashes.UpdateLastHash(ctx, &models.LastHash{Snode: "s1"})
		assert.True(t, models.IsValidationError(err))
	})
}

func TestAttachmentJobStore(t *testing.T) {
	db, _ := setupTestDB(t)
	jobs := NewAttachmentJobStore(db)
	ctx := context.Background()

	require.NoError(t, jobs.SaveJob(ctx, &models.AttachmentDownloadJob{
		ID: "j1", MessageID: "m1", AttemptTimestamp: 1000,
	}))
	require.NoError(t, jobs.SaveJob(ctx, &models.AttachmentDownloadJob{
		ID: "j2", MessageID: "m2", AttemptTimestamp: 5000,
	}))
	require.NoError(t, jobs.SaveJob(ctx, &models.AttachmentDownloadJob{
		ID: "j3", MessageID: "m3", Attempts: maxAttachmentAttempts, AttemptTimestamp: 1000,
	}))
	require.NoError(t, jobs.SaveJob(ctx, &models.AttachmentDownloadJob{
		ID: "j4", MessageID: "m4", Pending: 1, AttemptTimestamp: 1000,
	}))

	t.Run("next jobs", func(t *testing.T) {
		due, err := jobs.GetNextJobs(ctx, 2000, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "j1", due[0].ID)
	})

	t.Run("set pending takes a job out of rotation", func(t *testing.T) {
		require.NoError(t, jobs.SetPending(ctx, "j1"))
		due, err := jobs.GetNextJobs(ctx, 2000, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		err = jobs.SetPending(ctx, "missing")
		assert.True(t, models.HasCode(err, models.CodeNotFound))
	})

	t.Run("reset pending on start", func(t *testing.T) {
		require.NoError(t, jobs.ResetPendingJobs(ctx))
		due, err := jobs.GetNextJobs(ctx, 2000, 10)
		require.NoError(t, err)
		assert.Len(t, due, 2)
	})

	t.Run("remove for deleted messages", func(t *testing.T) {
		require.NoError(t, jobs.RemoveJobsForMessages(ctx, []string{"m1", "m4"}))
		due, err := jobs.GetNextJobs(ctx, 10000, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "j2", due[0].ID)
	})

	t.Run("remove all", func(t *testing.T) {
		require.NoError(t, jobs.RemoveAllJobs(ctx))
		due, err := jobs.GetNextJobs(ctx, 10000, 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("validation", func(t *testing.T) {
		err := jobs.SaveJob(ctx, &models.AttachmentDownloadJob{ID: "x"})
		assert.True(t, models.IsValidationError(err))
	})
}
