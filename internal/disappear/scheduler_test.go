package disappear

import (
	"context"
	"testing"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/attachments"
	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/notifications"
	"github.com/session-foundation/session-desktop-sub001/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestScheduler(t *testing.T, db *gorm.DB, clock *fakeClock) (*Scheduler, repository.MessageStore, *recordingRemover) {
	t.Helper()
	opts := repository.StoreOptions{OurPubkey: ourPubkey}
	messages := repository.NewMessageStore(db, opts)
	conversations := repository.NewConversationStore(db, opts)
	jobs := repository.NewAttachmentJobStore(db)
	remover := &recordingRemover{}
	notifier := notifications.NewNotifier(nil) // nil-safe: no redis in tests

	s := NewScheduler(messages, conversations, jobs, remover, notifier, clock)
	return s, messages, remover
}

var _ attachments.Remover = (*recordingRemover)(nil)

func TestSchedulerStartupSweep(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UnixMilli()
	clock := &fakeClock{now: now}
	scheduler, messages, remover := newTestScheduler(t, db, clock)
	ctx := context.Background()

	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "expired", ConversationID: "c", Direction: models.DirectionIncoming,
			ExpirationType: models.ExpirationTypeDeleteAfterSend, ExpireTimerSeconds: 10,
			ExpirationStartTimestamp: int64Ptr(now - 60000), ReceivedAt: now - 60000,
			Attachments: models.AttachmentList{{Path: "/tmp/att-1.jpg"}}},
		{ID: "alive", ConversationID: "c", Direction: models.DirectionIncoming,
			ExpirationType: models.ExpirationTypeDeleteAfterSend, ExpireTimerSeconds: 3600,
			ExpirationStartTimestamp: int64Ptr(now), ReceivedAt: now},
	})
	require.NoError(t, err)

	scheduler.Start(ctx)
	defer scheduler.Stop(ctx)

	// Expired while "the app was closed": the startup sweep removes it.
	_, err = messages.GetMessageByID(ctx, "expired")
	assert.Error(t, err)

	alive, err := messages.GetMessageByID(ctx, "alive")
	require.NoError(t, err)
	assert.Equal(t, "alive", alive.ID)

	assert.Equal(t, []string{"/tmp/att-1.jpg"}, remover.paths)
	assert.Equal(t, StateArmed, scheduler.State())
}

func TestSchedulerIdleWhenNothingPending(t *testing.T) {
	db := setupTestDB(t)
	clock := &fakeClock{now: time.Now().UnixMilli()}
	scheduler, _, _ := newTestScheduler(t, db, clock)
	ctx := context.Background()

	scheduler.Start(ctx)
	defer scheduler.Stop(ctx)

	assert.Equal(t, StateIdle, scheduler.State())
}

func TestSchedulerSingleTimerInvariant(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UnixMilli()
	clock := &fakeClock{now: now}
	scheduler, messages, _ := newTestScheduler(t, db, clock)
	ctx := context.Background()

	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "m", ConversationID: "c", Direction: models.DirectionIncoming,
			ExpirationType: models.ExpirationTypeDeleteAfterSend, ExpireTimerSeconds: 3600,
			ExpirationStartTimestamp: int64Ptr(now), ReceivedAt: now},
	})
	require.NoError(t, err)

	scheduler.Start(ctx)
	defer scheduler.Stop(ctx)

	// A burst of change signals must coalesce, never stack timers.
	for i := 0; i < 20; i++ {
		scheduler.Reschedule(ctx)
	}

	scheduler.mu.Lock()
	assert.Equal(t, StateArmed, scheduler.state)
	assert.NotNil(t, scheduler.timer)
	queued := scheduler.rearmQueued
	scheduler.mu.Unlock()
	// At most one deferred re-arm may be outstanding on top of the live timer.
	assert.True(t, queued)
}

func TestSchedulerSkipsInvariantViolations(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UnixMilli()
	clock := &fakeClock{now: now}
	scheduler, messages, _ := newTestScheduler(t, db, clock)
	ctx := context.Background()

	// Bypass the store normalization to plant a corrupt row: a deadline with
	// no start timestamp.
	require.NoError(t, db.Exec(
		"INSERT INTO messages (id, conversation_id, direction, expires_at, received_at) VALUES (?, ?, ?, ?, ?)",
		"corrupt", "c", "incoming", now-1000, now-60000,
	).Error)

	scheduler.Start(ctx)
	defer scheduler.Stop(ctx)

	// The sweep skipped it instead of crashing; the row is still there.
	msg, err := messages.GetMessageByID(ctx, "corrupt")
	require.NoError(t, err)
	assert.Equal(t, "corrupt", msg.ID)
}

func TestSchedulerStopCancelsTimer(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UnixMilli()
	clock := &fakeClock{now: now}
	scheduler, messages, _ := newTestScheduler(t, db, clock)
	ctx := context.Background()

	_, err := messages.SaveMessages(ctx, []*models.Message{
		{ID: "m", ConversationID: "c", Direction: models.DirectionIncoming,
			ExpirationType: models.ExpirationTypeDeleteAfterSend, ExpireTimerSeconds: 3600,
			ExpirationStartTimestamp: int64Ptr(now), ReceivedAt: now},
	})
	require.NoError(t, err)

	scheduler.Start(ctx)
	assert.Equal(t, StateArmed, scheduler.State())

	scheduler.Stop(ctx)
	assert.Equal(t, StateIdle, scheduler.State())

	// Post-stop signals are ignored.
	scheduler.Reschedule(ctx)
	assert.Equal(t, StateIdle, scheduler.State())
}

func int64Ptr(v int64) *int64 { return &v }
