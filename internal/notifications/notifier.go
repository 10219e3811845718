// Package notifications publishes fire-and-forget engine events for UI
// projections. Nothing in the engine awaits delivery.
package notifications

import (
	"context"
	"encoding/json"

	"github.com/session-foundation/session-desktop-sub001/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Channel names for the UI projection layer.
const (
	ChannelMessagesRemoved     = "engine:messages-removed"
	ChannelConversationUpdated = "engine:conversation-updated"
)

// MessagesRemovedEvent announces that messages expired or were deleted.
type MessagesRemovedEvent struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	Reason         string   `json:"reason"` // "expired" or "removed"
}

// ConversationUpdatedEvent announces a changed last-message preview or
// read-state so the left pane can refresh.
type ConversationUpdatedEvent struct {
	ConversationID string `json:"conversation_id"`
	LastMessage    string `json:"last_message,omitempty"`
	UnreadCount    int64  `json:"unread_count"`
	MentionedUs    bool   `json:"mentioned_us"`
}

// Notifier provides helpers to publish engine events into Redis channels.
// A nil client disables publication without disabling the engine.
type Notifier struct {
	rdb *redis.Client
	log *observability.Logger
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, log: observability.GlobalLogger}
}

// PublishMessagesRemoved announces removed message ids for one conversation.
func (n *Notifier) PublishMessagesRemoved(ctx context.Context, event MessagesRemovedEvent) {
	n.publish(ctx, ChannelMessagesRemoved, event)
}

// PublishConversationUpdated announces refreshed conversation derived state.
func (n *Notifier) PublishConversationUpdated(ctx context.Context, event ConversationUpdatedEvent) {
	n.publish(ctx, ChannelConversationUpdated, event)
}

func (n *Notifier) publish(ctx context.Context, channel string, event any) {
	if n == nil || n.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error("notifier: marshal event failed", "channel", channel, "error", err)
		return
	}
	if err := n.rdb.Publish(ctx, channel, string(payload)).Err(); err != nil {
		// Fire and forget: the engine never fails because the UI bus is down.
		n.log.Warn("notifier: publish failed", "channel", channel, "error", err)
	}
}

// StartSubscriber subscribes to both engine channels and calls onMessage for
// each incoming message. Used by UI projection processes.
func (n *Notifier) StartSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "engine:*")
	ch := sub.Channel()

	go func() {
		for msg := range ch {
			onMessage(msg.Channel, msg.Payload)
		}
	}()

	return nil
}
