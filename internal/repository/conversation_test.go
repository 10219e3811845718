package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveConversation(t *testing.T) {
	db, fts := setupTestDB(t)
	convos := NewConversationStore(db, testStoreOptions(fts))
	messages := NewMessageStore(db, testStoreOptions(fts))
	ctx := context.Background()

	t.Run("missing id", func(t *testing.T) {
		_, err := convos.SaveConversation(ctx, &models.Conversation{})
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("derived state is computed with the save", func(t *testing.T) {
		_, err := messages.SaveMessages(ctx, []*models.Message{
			{ID: "m1", ConversationID: "peer", Direction: models.DirectionIncoming,
				Unread: models.UnreadMessage, Body: "hello @05ourpubkey",
				ReceivedAt: 1700000001000},
			{ID: "m2", ConversationID: "peer", Direction: models.DirectionIncoming,
				ReceivedAt: 1700000002000},
		})
		require.NoError(t, err)

		saved, err := convos.SaveConversation(ctx, &models.Conversation{
			ID: "peer", Kind: models.KindPrivate, ActiveAt: 1700000002000,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Details.UnreadCount)
		assert.True(t, saved.Details.MentionedUs)
		assert.Equal(t, int64(1700000002000), saved.Details.LastReadTimestamp)
	})

	t.Run("expiration setting is normalized", func(t *testing.T) {
		// A mode with no timer means off.
		saved, err := convos.SaveConversation(ctx, &models.Conversation{
			ID: "no-timer", Kind: models.KindPrivate,
			ExpirationMode: models.ExpirationModeDeleteAfterRead,
		})
		require.NoError(t, err)
		assert.Equal(t, models.ExpirationModeOff, saved.ExpirationMode)

		got, err := convos.GetConversation(ctx, "no-timer")
		require.NoError(t, err)
		assert.Equal(t, models.ExpirationModeOff, got.ExpirationMode)
		assert.Zero(t, got.ExpireTimerSeconds)

		// A timer with no mode is dropped.
		saved, err = convos.SaveConversation(ctx, &models.Conversation{
			ID: "no-mode", Kind: models.KindPrivate, ExpireTimerSeconds: 60,
		})
		require.NoError(t, err)
		assert.Zero(t, saved.ExpireTimerSeconds)

		// Communities never expire.
		saved, err = convos.SaveConversation(ctx, &models.Conversation{
			ID: "room", Kind: models.KindCommunity,
			ExpirationMode: models.ExpirationModeDeleteAfterSend, ExpireTimerSeconds: 60,
		})
		require.NoError(t, err)
		assert.Equal(t, models.ExpirationModeOff, saved.ExpirationMode)
		assert.Zero(t, saved.ExpireTimerSeconds)
	})

	t.Run("preview is truncated", func(t *testing.T) {
		saved, err := convos.SaveConversation(ctx, &models.Conversation{
			ID: "long", Kind: models.KindPrivate,
			LastMessage: strings.Repeat("x", 500),
		})
		require.NoError(t, err)
		assert.Len(t, saved.LastMessage, models.LastMessagePreviewLen)
	})
}

func TestGetAllConversations(t *testing.T) {
	db, fts := setupTestDB(t)
	convos := NewConversationStore(db, testStoreOptions(fts))
	ctx := context.Background()

	for _, c := range []*models.Conversation{
		{ID: "oldest", Kind: models.KindPrivate, ActiveAt: 100},
		{ID: "newest", Kind: models.KindPrivate, ActiveAt: 300},
		{ID: "middle", Kind: models.KindCommunity, ActiveAt: 200},
	} {
		_, err := convos.SaveConversation(ctx, c)
		require.NoError(t, err)
	}

	all, err := convos.GetAllConversations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "newest", all[0].ID)
	assert.Equal(t, "middle", all[1].ID)
	assert.Equal(t, "oldest", all[2].ID)
}

func TestSearchConversations(t *testing.T) {
	db, fts := setupTestDB(t)
	convos := NewConversationStore(db, testStoreOptions(fts))
	ctx := context.Background()

	for _, c := range []*models.Conversation{
		{ID: "05aaa", Kind: models.KindPrivate, DisplayName: "Alice", ActiveAt: 100},
		{ID: "05bbb", Kind: models.KindPrivate, DisplayName: "Bob", Nickname: "ali-bob", ActiveAt: 200},
		{ID: "05ccc", Kind: models.KindPrivate, DisplayName: "Carol", ActiveAt: 300},
		{ID: "05ddd", Kind: models.KindPrivate, DisplayName: "alison"},
	} {
		_, err := convos.SaveConversation(ctx, c)
		require.NoError(t, err)
	}

	t.Run("matches name and nickname, ordered by shown name", func(t *testing.T) {
		found, err := convos.SearchConversations(ctx, "ali")
		require.NoError(t, err)
		require.Len(t, found, 2)
		// The nickname wins over the profile name for ordering.
		assert.Equal(t, "05bbb", found[0].ID)
		assert.Equal(t, "05aaa", found[1].ID)
	})

	t.Run("inactive conversations are excluded", func(t *testing.T) {
		found, err := convos.SearchConversations(ctx, "alison")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("matches id substring", func(t *testing.T) {
		found, err := convos.SearchConversations(ctx, "05ccc")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Carol", found[0].DisplayName)
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		_, err := convos.SearchConversations(ctx, "")
		assert.True(t, models.IsValidationError(err))
	})
}

func TestRemoveConversationCascade(t *testing.T) {
	db, fts := setupTestDB(t)
	convos := NewConversationStore(db, testStoreOptions(fts))
	messages := NewMessageStore(db, testStoreOptions(fts))
	hashes := NewHashStore(db)
	ctx := context.Background()

	_, err := convos.SaveConversation(ctx, &models.Conversation{ID: "doomed", Kind: models.KindPrivate})
	require.NoError(t, err)
	_, err = messages.SaveMessages(ctx, []*models.Message{
		{ID: "m1", ConversationID: "doomed", Body: "bye", ReceivedAt: 1},
	})
	require.NoError(t, err)
	require.NoError(t, hashes.SaveSeenHashes(ctx, []models.SeenMessageHash{
		{Hash: "h1", ConversationID: "doomed", ExpiresAt: 99},
	}))
	require.NoError(t, hashes.UpdateLastHash(ctx, &models.LastHash{
		ConversationID: "doomed", Snode: "snode-1", Namespace: 0, Hash: "h1",
	}))

	require.NoError(t, convos.RemoveConversation(ctx, "doomed"))

	_, err = convos.GetConversation(ctx, "doomed")
	assert.Error(t, err)

	count, _ := messages.MessagesCountByConversation(ctx, "doomed")
	assert.Zero(t, count)

	unseen, err := hashes.FilterSeenHashes(ctx, "doomed", []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, unseen)

	last, err := hashes.GetLastHashBySnode(ctx, "doomed", "snode-1", 0)
	require.NoError(t, err)
	assert.Empty(t, last)
}
