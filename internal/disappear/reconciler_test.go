package disappear

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/repository"
	"github.com/session-foundation/session-desktop-sub001/internal/swarm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerShortensExpiry(t *testing.T) {
	db := setupTestDB(t)
	messages := repository.NewMessageStore(db, repository.StoreOptions{OurPubkey: ourPubkey})
	ctx := context.Background()

	readAt := time.Now().UnixMilli() - 10000
	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "m1", ConversationID: "c", Direction: models.DirectionIncoming,
			MessageHash: "H", Unread: models.UnreadMessage,
			ExpirationType: models.ExpirationTypeDeleteAfterRead, ExpireTimerSeconds: 3600,
			ReceivedAt: readAt},
	})
	require.NoError(t, err)
	// Locally read at readAt.
	require.NoError(t, messages.UpdateMessageExpiry(ctx, "m1", readAt, readAt+3600000, true))

	// Another device read it half the timer earlier.
	remoteExpiry := readAt + 1800000
	stub := &stubExpiryService{updates: []swarm.UpdatedExpiry{
		{MessageHash: "H", UpdatedExpiryMs: remoteExpiry},
	}}
	reconciler := NewReconciler(messages, stub, nil)

	require.NoError(t, reconciler.Reconcile(ctx))

	msg, err := messages.GetMessageByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, remoteExpiry, *msg.ExpiresAt)
	assert.Equal(t, remoteExpiry-3600000, *msg.ExpirationStartTimestamp)
	assert.Equal(t, models.ReadMessage, msg.Unread)

	t.Run("replaying the same response is idempotent", func(t *testing.T) {
		require.NoError(t, reconciler.Reconcile(ctx))
		again, err := messages.GetMessageByID(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, remoteExpiry, *again.ExpiresAt)
	})
}

func TestReconcilerRemoteFailureLeavesStateUntouched(t *testing.T) {
	db := setupTestDB(t)
	messages := repository.NewMessageStore(db, repository.StoreOptions{OurPubkey: ourPubkey})
	ctx := context.Background()

	readAt := time.Now().UnixMilli() - 10000
	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "m1", ConversationID: "c", Direction: models.DirectionIncoming,
			MessageHash: "H", ExpirationType: models.ExpirationTypeDeleteAfterRead,
			ExpireTimerSeconds: 3600, ExpirationStartTimestamp: int64Ptr(readAt),
			ReceivedAt: readAt},
	})
	require.NoError(t, err)

	stub := &stubExpiryService{err: errors.New("swarm unreachable")}
	reconciler := NewReconciler(messages, stub, nil)

	err = reconciler.Reconcile(ctx)
	assert.True(t, models.IsReconciliationError(err))

	msg, merr := messages.GetMessageByID(ctx, "m1")
	require.NoError(t, merr)
	assert.Equal(t, readAt+3600000, *msg.ExpiresAt)
}

func TestReconcilerIgnoresUnknownAndMissingHashes(t *testing.T) {
	db := setupTestDB(t)
	messages := repository.NewMessageStore(db, repository.StoreOptions{OurPubkey: ourPubkey})
	ctx := context.Background()

	readAt := time.Now().UnixMilli() - 10000
	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "m1", ConversationID: "c", Direction: models.DirectionIncoming,
			MessageHash: "H1", ExpirationType: models.ExpirationTypeDeleteAfterRead,
			ExpireTimerSeconds: 3600, ExpirationStartTimestamp: int64Ptr(readAt),
			ReceivedAt: readAt},
		{ID: "m2", ConversationID: "c", Direction: models.DirectionIncoming,
			MessageHash: "H2", ExpirationType: models.ExpirationTypeDeleteAfterRead,
			ExpireTimerSeconds: 3600, ExpirationStartTimestamp: int64Ptr(readAt),
			ReceivedAt: readAt},
	})
	require.NoError(t, err)

	// The swarm answered for H1 only, plus a hash we never asked about.
	// Hashes absent from the response stay untouched.
	newExpiry := readAt + 600000
	stub := &stubExpiryService{updates: []swarm.UpdatedExpiry{
		{MessageHash: "H1", UpdatedExpiryMs: newExpiry},
		{MessageHash: "H-unknown", UpdatedExpiryMs: newExpiry},
	}}
	reconciler := NewReconciler(messages, stub, nil)

	require.NoError(t, reconciler.Reconcile(ctx))
	assert.Equal(t, 1, stub.callCount())

	m1, _ := messages.GetMessageByID(ctx, "m1")
	assert.Equal(t, newExpiry, *m1.ExpiresAt)

	m2, _ := messages.GetMessageByID(ctx, "m2")
	assert.Equal(t, readAt+3600000, *m2.ExpiresAt)
}

func TestReconcilerNoCandidatesSkipsRemoteCall(t *testing.T) {
	db := setupTestDB(t)
	messages := repository.NewMessageStore(db, repository.StoreOptions{OurPubkey: ourPubkey})

	stub := &stubExpiryService{}
	reconciler := NewReconciler(messages, stub, nil)

	require.NoError(t, reconciler.Reconcile(context.Background()))
	assert.Zero(t, stub.callCount())
}
