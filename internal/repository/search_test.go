package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/session-foundation/session-desktop-sub001/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMessages(t *testing.T) {
	db, fts := setupTestDB(t)
	if !fts {
		t.Skip("search tests skipped: SQLite build lacks fts5")
	}
	store := NewMessageStore(db, testStoreOptions(true))
	ctx := context.Background()
	gofakeit.Seed(42)

	// A corpus where many messages match "fennel" but only some are recent.
	batch := make([]*models.Message, 0, 300)
	for i := 0; i < 300; i++ {
		body := gofakeit.Sentence(8)
		if i%3 == 0 {
			body = "fennel " + body
		}
		batch = append(batch, &models.Message{
			ID:             fmt.Sprintf("m%03d", i),
			ConversationID: "c",
			Body:           body,
			ReceivedAt:     int64(1700000000000 + i*1000),
		})
	}
	_, err := store.SaveMessages(ctx, batch)
	require.NoError(t, err)

	t.Run("bounded and ordered by recency", func(t *testing.T) {
		results, err := store.SearchMessages(ctx, "fennel", 50)
		require.NoError(t, err)
		require.Len(t, results, 50)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].OrderingKey(), results[i].OrderingKey())
		}
	})

	t.Run("snippets mark the match", func(t *testing.T) {
		results, err := store.SearchMessages(ctx, "fennel", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Contains(t, r.Snippet, snippetOpen+"fennel"+snippetClose)
		}
	})

	t.Run("no matches", func(t *testing.T) {
		results, err := store.SearchMessages(ctx, "xylophonezzz", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("empty query is rejected", func(t *testing.T) {
		_, err := store.SearchMessages(ctx, "", 10)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("deleted message leaves the index", func(t *testing.T) {
		_, err := store.SaveMessages(ctx, []*models.Message{
			{ID: "unique", ConversationID: "c", Body: "quixotic banterfly", ReceivedAt: 1700009999000},
		})
		require.NoError(t, err)

		results, err := store.SearchMessages(ctx, "banterfly", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)

		require.NoError(t, store.RemoveMessagesByIDs(ctx, []string{"unique"}))
		results, err = store.SearchMessages(ctx, "banterfly", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestSearchUnavailable(t *testing.T) {
	db, _ := setupTestDB(t)
	store := NewMessageStore(db, StoreOptions{OurPubkey: "05ourpubkey", FTSEnabled: false})

	_, err := store.SearchMessages(context.Background(), "anything", 10)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}
