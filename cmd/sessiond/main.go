// Command sessiond runs the message lifecycle and persistence engine: it owns
// the local store, the disappearing-message scheduler, the swarm expiry
// reconciler and the incremental vacuum.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/attachments"
	"github.com/session-foundation/session-desktop-sub001/internal/cache"
	"github.com/session-foundation/session-desktop-sub001/internal/config"
	"github.com/session-foundation/session-desktop-sub001/internal/database"
	"github.com/session-foundation/session-desktop-sub001/internal/disappear"
	"github.com/session-foundation/session-desktop-sub001/internal/featureflags"
	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/network"
	"github.com/session-foundation/session-desktop-sub001/internal/notifications"
	"github.com/session-foundation/session-desktop-sub001/internal/observability"
	"github.com/session-foundation/session-desktop-sub001/internal/repository"
	"github.com/session-foundation/session-desktop-sub001/internal/swarm"
)

// fourteen days, wall clock: the unread delete-after-read purge cutoff.
const unreadExpiredDaRMaxAge = 14 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		observability.GlobalLogger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log := observability.GlobalLogger
	log.Info("starting sessiond", slog.String("env", cfg.Env))

	if cfg.TracingEnabled {
		shutdownTracing, terr := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "sessiond",
			ServiceVersion: "1.0.0",
			Environment:    cfg.Env,
			Enabled:        true,
			Exporter:       cfg.TracingExporter,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SamplerRatio:   cfg.SamplerRatio,
		})
		if terr != nil {
			return terr
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	items := repository.NewItemStore(store.DB)
	ourPubkey, _, err := items.GetItem(ctx, models.ItemOurPubkey)
	if err != nil {
		return err
	}

	opts := repository.StoreOptions{OurPubkey: ourPubkey, FTSEnabled: store.FTSEnabled}
	messages := repository.NewMessageStore(store.DB, opts)
	conversations := repository.NewConversationStore(store.DB, opts)
	hashes := repository.NewHashStore(store.DB)
	jobs := repository.NewAttachmentJobStore(store.DB)

	flags := featureflags.NewManager(cfg.FeatureFlags)
	clock := network.NewTime()

	cache.InitRedis(cfg.RedisURL)
	notifier := notifications.NewNotifier(cache.GetClient())

	resolver := disappear.NewResolver(clock, ourPubkey)
	if err := startupCleanups(ctx, clock, resolver, messages, conversations, hashes, jobs, flags, ourPubkey); err != nil {
		return err
	}

	files := attachments.NewFileRemover()
	scheduler := disappear.NewScheduler(messages, conversations, jobs, files, notifier, clock)
	scheduler.Start(ctx)

	reconciler := disappear.NewReconciler(messages, swarmExpiryClient(), scheduler)
	go reconciler.Run(ctx, time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)

	vacuum := database.NewVacuumManager(store.DB, database.VacuumOptions{
		PagesPerChunk: cfg.VacuumPagesPerChunk,
		MinFreePages:  cfg.VacuumMinFreePages,
		ChunkInterval: time.Duration(cfg.VacuumChunkIntervalMs) * time.Millisecond,
		PeriodicEvery: time.Duration(cfg.VacuumPeriodicMinutes) * time.Minute,
		BlurDebounce:  database.DefaultVacuumOptions().BlurDebounce,
	})

	// Coarse wall-clock tick so the scheduler catches up after suspend/resume.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scheduler.Reschedule(ctx)
			}
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop(shutdownCtx)
	vacuum.Close()

	if err := store.Close(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// openStore opens the store and applies the configured recovery choice when
// the integrity check fails: reset and reopen, or give up.
func openStore(cfg *config.Config) (*database.Store, error) {
	store, err := database.Open(cfg)
	if err == nil {
		return store, nil
	}
	if !models.IsIntegrityError(err) {
		return nil, err
	}
	observability.GlobalLogger.Error("store integrity check failed",
		slog.String("error", err.Error()),
		slog.Bool("reset_on_corruption", cfg.ResetOnCorruption))
	if !cfg.ResetOnCorruption {
		return nil, err
	}
	if rerr := database.Reset(cfg); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	observability.GlobalLogger.Warn("storage was reset after corruption")
	return database.Open(cfg)
}

// startupCleanups runs the maintenance passes that must happen before the
// scheduler arms: expired hash rows, the unread delete-after-read purge,
// orphaned attachment jobs and community pruning when the flag is on.
func startupCleanups(
	ctx context.Context,
	clock network.Clock,
	resolver *disappear.Resolver,
	messages repository.MessageStore,
	conversations repository.ConversationStore,
	hashes repository.HashStore,
	jobs repository.AttachmentJobStore,
	flags *featureflags.Manager,
	ourPubkey string,
) error {
	now := clock.Now()

	if _, err := hashes.ClearExpiredSeenHashes(ctx, now); err != nil {
		return err
	}
	if err := jobs.ResetPendingJobs(ctx); err != nil {
		return err
	}

	// Wall clock on purpose: a device offline past the sender's timer window
	// must not resurrect messages every other device already destroyed.
	cutoff := time.Now().Add(-unreadExpiredDaRMaxAge).UnixMilli()
	if _, err := messages.CleanupUnreadExpiredDeleteAfterRead(ctx, cutoff); err != nil {
		return err
	}

	// Outgoing messages that got a timer but died before the swarm store
	// acknowledgement never received a deadline. Restart their window now.
	pending, err := messages.GetOutgoingWithoutExpiresAt(ctx)
	if err != nil {
		return err
	}
	for _, msg := range pending {
		convo, cerr := conversations.GetConversation(ctx, msg.ConversationID)
		if cerr != nil {
			continue
		}
		m := msg
		if rerr := resolver.CheckExpiringOutgoing(&convo.Conversation, &m, now); rerr != nil {
			continue
		}
		if m.ExpiresAt == nil {
			continue
		}
		if uerr := messages.UpdateMessageExpiry(ctx, m.ID, *m.ExpirationStartTimestamp, *m.ExpiresAt, false); uerr != nil {
			observability.GlobalLogger.Warn("expiry repair failed",
				slog.String("message_id", m.ID),
				slog.String("error", uerr.Error()))
		}
	}

	if flags.Enabled(featureflags.CommunityPruning, ourPubkey) {
		convos, err := conversations.GetAllConversations(ctx)
		if err != nil {
			return err
		}
		pruneBefore := time.Now().Add(-6 * 30 * 24 * time.Hour).Unix()
		for _, convo := range convos {
			if !convo.IsCommunity() {
				continue
			}
			if _, err := messages.RemoveAllMessagesInConversationSentBefore(ctx, convo.ID, pruneBefore); err != nil {
				observability.GlobalLogger.Warn("community pruning failed",
					slog.String("conversation_id", convo.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// swarmExpiryClient returns the expiry service implementation. The native
// swarm client lives outside this module; until it is linked in, reconciliation
// passes are no-ops.
func swarmExpiryClient() swarm.ExpiryService {
	return noopExpiryService{}
}

type noopExpiryService struct{}

func (noopExpiryService) ShortenExpiry(ctx context.Context, details []swarm.ExpiringDetail) ([]swarm.UpdatedExpiry, error) {
	return nil, nil
}
