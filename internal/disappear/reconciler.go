package disappear

import (
	"context"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"
	"github.com/session-foundation/session-desktop-sub001/internal/repository"
	"github.com/session-foundation/session-desktop-sub001/internal/swarm"
)

// Reconciler keeps the swarm's per-message TTLs aligned with locally computed
// deadlines for incoming delete-after-read messages. It only ever shortens
// remote TTLs; extension is not its job.
type Reconciler struct {
	messages  repository.MessageStore
	expiry    swarm.ExpiryService
	log       *observability.SchedulerLogger
	scheduler *Scheduler
}

// NewReconciler wires a reconciler. scheduler may be nil; when set it is
// rescheduled after any deadline moved.
func NewReconciler(messages repository.MessageStore, expiry swarm.ExpiryService, scheduler *Scheduler) *Reconciler {
	return &Reconciler{
		messages:  messages,
		expiry:    expiry,
		log:       observability.NewSchedulerLogger("swarm_reconciler"),
		scheduler: scheduler,
	}
}

// Reconcile runs one pass: gather eligible messages, ask the swarm for their
// authoritative TTLs and write back the ones that changed. A failed remote
// call leaves every local row untouched; per-item write-back failures are
// isolated so one bad row never blocks the rest of the batch.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	candidates, err := r.messages.GetReconciliationCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	byHash := make(map[string]models.Message, len(candidates))
	details := make([]swarm.ExpiringDetail, 0, len(candidates))
	for _, msg := range candidates {
		byHash[msg.MessageHash] = msg
		details = append(details, swarm.ExpiringDetail{
			MessageHash:   msg.MessageHash,
			ExpireTimerMs: msg.ExpireTimerSeconds * 1000,
			ReadAt:        *msg.ExpirationStartTimestamp,
		})
	}

	updates, err := r.expiry.ShortenExpiry(ctx, details)
	if err != nil {
		observability.ReconciliationErrors.Inc()
		rerr := models.NewReconciliationError("swarm expiry call failed", err)
		r.log.LogError(ctx, "shorten_expiry", rerr)
		return rerr
	}

	var changed int
	for _, update := range updates {
		msg, ok := byHash[update.MessageHash]
		if !ok || update.UpdatedExpiryMs <= 0 {
			continue
		}
		if msg.ExpiresAt != nil && *msg.ExpiresAt == update.UpdatedExpiryMs {
			continue
		}
		// Absolute values from the swarm keep this idempotent: replaying the
		// same response writes the same row.
		newStart := update.UpdatedExpiryMs - msg.ExpireTimerSeconds*1000
		if err := r.messages.UpdateMessageExpiry(ctx, msg.ID, newStart, update.UpdatedExpiryMs, true); err != nil {
			observability.ReconciliationErrors.Inc()
			r.log.LogError(ctx, "write_back",
				models.NewReconciliationError("expiry write-back failed for "+msg.ID, err))
			continue
		}
		changed++
	}

	if changed > 0 {
		r.log.LogEvent(ctx, "reconciled", map[string]interface{}{
			"candidates": len(candidates), "changed": changed,
		})
		if r.scheduler != nil {
			r.scheduler.Reschedule(ctx)
		}
	}
	return nil
}

// Run reconciles on a fixed interval until the context is cancelled. One pass
// runs immediately.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if err := r.Reconcile(ctx); err != nil {
		r.log.LogError(ctx, "periodic_pass", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.log.LogError(ctx, "periodic_pass", err)
			}
		}
	}
}
