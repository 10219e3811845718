package disappear

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/attachments"
	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/network"
	"github.com/session-foundation/session-desktop-sub001/internal/notifications"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"
	"github.com/session-foundation/session-desktop-sub001/internal/repository"
)

// SchedulerState names the scheduler's single-timer state machine states.
type SchedulerState int

const (
	// StateIdle means nothing is scheduled to expire.
	StateIdle SchedulerState = iota
	// StateArmed means one timer is outstanding for the next deadline.
	StateArmed
	// StateSweeping means a sweep is deleting due messages right now.
	StateSweeping
)

// Re-arm requests arriving faster than this collapse into a single deferred
// re-arm, so a burst of saves never churns the timer.
const rearmThrottle = time.Second

// maxTimerDelay caps the armed delay; a deadline further out than this is
// re-armed again when the capped timer fires.
const maxTimerDelay = time.Duration(math.MaxInt32) * time.Millisecond

// Scheduler owns the single outstanding expiration timer. It never owns
// message data: every sweep re-reads the store, deletes what is due and arms
// for the next soonest deadline.
type Scheduler struct {
	messages      repository.MessageStore
	conversations repository.ConversationStore
	jobs          repository.AttachmentJobStore
	files         attachments.Remover
	notifier      *notifications.Notifier
	clock         network.Clock
	log           *observability.SchedulerLogger

	mu          sync.Mutex
	state       SchedulerState
	timer       *time.Timer
	lastRearm   time.Time
	rearmQueued bool
	closed      bool

	sweeping sync.WaitGroup
}

// NewScheduler wires a scheduler. Call Start to perform the initial catch-up
// sweep and arm the first timer.
func NewScheduler(
	messages repository.MessageStore,
	conversations repository.ConversationStore,
	jobs repository.AttachmentJobStore,
	files attachments.Remover,
	notifier *notifications.Notifier,
	clock network.Clock,
) *Scheduler {
	return &Scheduler{
		messages:      messages,
		conversations: conversations,
		jobs:          jobs,
		files:         files,
		notifier:      notifier,
		clock:         clock,
		log:           observability.NewSchedulerLogger("expiration_scheduler"),
		state:         StateIdle,
	}
}

// Start performs an immediate sweep to catch messages that expired while the
// app was closed, then arms for the next deadline.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.LogEvent(ctx, "starting", nil)
	s.sweep(ctx)
}

// State returns the current state. Test and debug surface.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reschedule asks the scheduler to re-evaluate the next deadline. Call it
// after saving a message with a sooner expiry, after a read starts a timer,
// or from a coarse wall-clock interval to recover from suspend. Requests are
// throttled: at most one underlying re-arm per second.
func (s *Scheduler) Reschedule(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.rearmQueued {
		s.mu.Unlock()
		return
	}
	wait := rearmThrottle - time.Since(s.lastRearm)
	if wait <= 0 {
		s.mu.Unlock()
		s.rearm(ctx)
		return
	}
	s.rearmQueued = true
	s.mu.Unlock()

	time.AfterFunc(wait, func() {
		s.mu.Lock()
		s.rearmQueued = false
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.rearm(context.Background())
		}
	})
}

// Stop cancels the outstanding timer and waits for any in-flight sweep to
// finish its transaction.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.sweeping.Wait()
	s.log.LogEvent(ctx, "stopped", nil)
}

// rearm queries the next deadline and arms the single timer slot for it,
// replacing whatever was armed before.
func (s *Scheduler) rearm(ctx context.Context) {
	next, err := s.messages.GetNextExpiringMessage(ctx)
	if err != nil {
		s.log.LogError(ctx, "rearm_query", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastRearm = time.Now()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if next == nil || next.ExpiresAt == nil {
		s.state = StateIdle
		s.log.LogEvent(ctx, "idle", nil)
		return
	}

	delay := time.Duration(*next.ExpiresAt-s.clock.Now()) * time.Millisecond
	if delay < rearmThrottle {
		// A deadline already in the past right after a sweep means the row was
		// skipped or landed mid-sweep; the floor keeps the timer from spinning.
		delay = rearmThrottle
	}
	if delay > maxTimerDelay {
		delay = maxTimerDelay
	}
	s.state = StateArmed
	s.timer = time.AfterFunc(delay, func() {
		s.sweep(context.Background())
	})
	s.log.LogEvent(ctx, "armed", map[string]interface{}{
		"deadline_ms": *next.ExpiresAt,
		"delay":       delay.String(),
	})
}

// sweep deletes everything due, notifies, and re-arms.
func (s *Scheduler) sweep(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateSweeping
	s.sweeping.Add(1)
	s.mu.Unlock()
	defer s.sweeping.Done()

	span, ctx := observability.NewSpan(ctx, "expiry.sweep")
	defer span.End()
	start := time.Now()

	now := s.clock.Now()
	expired, err := s.messages.GetExpiredMessages(ctx, now)
	if err != nil {
		s.log.LogError(ctx, "sweep_query", err)
		span.SetError(err)
		s.rearm(ctx)
		return
	}

	byConvo := map[string][]models.Message{}
	for _, msg := range expired {
		if msg.ExpirationStartTimestamp == nil {
			// A deadline with no start violates the schema invariant. Skip it
			// rather than crash the sweep; saves will re-normalize it.
			s.log.LogError(ctx, "sweep_skip_message",
				models.NewSchedulingError("message "+msg.ID+" has expires_at but no start timestamp"))
			continue
		}
		byConvo[msg.ConversationID] = append(byConvo[msg.ConversationID], msg)
	}

	var deleted int
	for convoID, msgs := range byConvo {
		ids := make([]string, 0, len(msgs))
		var paths []string
		for _, m := range msgs {
			ids = append(ids, m.ID)
			paths = append(paths, m.Attachments.FilePaths()...)
		}

		// Attachment files first so a crash never leaves orphans on disk
		// pointing at deleted rows.
		s.files.DeleteFiles(ctx, paths)
		if err := s.jobs.RemoveJobsForMessages(ctx, ids); err != nil {
			s.log.LogError(ctx, "sweep_jobs_cleanup", err)
		}
		if err := s.messages.RemoveMessagesByIDs(ctx, ids); err != nil {
			s.log.LogError(ctx, "sweep_delete", err)
			continue
		}
		deleted += len(ids)

		s.notifier.PublishMessagesRemoved(ctx, notifications.MessagesRemovedEvent{
			ConversationID: convoID,
			MessageIDs:     ids,
			Reason:         "expired",
		})
		if convo, cerr := s.conversations.GetConversation(ctx, convoID); cerr == nil {
			s.notifier.PublishConversationUpdated(ctx, notifications.ConversationUpdatedEvent{
				ConversationID: convoID,
				LastMessage:    convo.LastMessage,
				UnreadCount:    convo.Details.UnreadCount,
				MentionedUs:    convo.Details.MentionedUs,
			})
		}
	}

	if deleted > 0 {
		observability.MessagesExpiredTotal.Add(float64(deleted))
	}
	observability.SweepDuration.Observe(time.Since(start).Seconds())
	s.log.LogEvent(ctx, "sweep_done", map[string]interface{}{
		"deleted": deleted, "duration": time.Since(start).String(),
	})

	s.rearm(ctx)
}
