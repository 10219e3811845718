// Package disappear implements the disappearing-message core: the pure mode
// resolver, the single-timer expiration scheduler and the swarm expiry
// reconciler.
package disappear

import (
	"fmt"

	"github.com/session-foundation/session-desktop-sub001/internal/models"
	"github.com/session-foundation/session-desktop-sub001/internal/network"
)

// Earliest timestamp we accept as a plausible Unix millisecond value
// (2000-01-01). Anything below it is a seconds value or garbage.
const minValidUnixMs = 946684800000

// Resolver maps wire-level expiration declarations to local conversation
// modes and computes expiration start timestamps. Pure decision logic: the
// only dependency is the network clock, and nothing here touches storage.
type Resolver struct {
	clock     network.Clock
	ourPubkey string
}

// NewResolver returns a resolver bound to our identity and the network clock.
func NewResolver(clock network.Clock, ourPubkey string) *Resolver {
	return &Resolver{clock: clock, ourPubkey: ourPubkey}
}

func (r *Resolver) isNoteToSelf(convo *models.Conversation) bool {
	return convo.IsPrivate() && convo.ID == r.ourPubkey
}

// ResolveConversationMode maps a wire-level declaration to the local
// conversation mode. The wire format historically carries only two usable
// disappearing types, so the third local mode (off) is synthesized from an
// unknown type or a zero timer. Groups and note-to-self are forced to
// deleteAfterSend: "read" has no single well-defined meaning there.
// Communities never support disappearing messages at all.
func (r *Resolver) ResolveConversationMode(convo *models.Conversation, wireType models.ExpirationType, timerSeconds int64) models.ExpirationMode {
	if convo.IsCommunity() {
		return models.ExpirationModeOff
	}
	if wireType == models.ExpirationTypeUnknown || timerSeconds <= 0 {
		return models.ExpirationModeOff
	}
	if r.isNoteToSelf(convo) || convo.IsClosedGroup() {
		return models.ExpirationModeDeleteAfterSend
	}
	if wireType == models.ExpirationTypeDeleteAfterSend {
		return models.ExpirationModeDeleteAfterSend
	}
	return models.ExpirationModeDeleteAfterRead
}

// ResolveWireType is the inverse direction, used when composing outgoing
// state. Mode off emits unknown; groups and note-to-self always emit
// deleteAfterSend when a timer is set, regardless of the requested mode.
func (r *Resolver) ResolveWireType(convo *models.Conversation, mode models.ExpirationMode, timerSeconds int64) models.ExpirationType {
	if mode == models.ExpirationModeOff || timerSeconds <= 0 || convo.IsCommunity() {
		return models.ExpirationTypeUnknown
	}
	if r.isNoteToSelf(convo) || convo.IsClosedGroup() {
		return models.ExpirationTypeDeleteAfterSend
	}
	if mode == models.ExpirationModeDeleteAfterRead {
		return models.ExpirationTypeDeleteAfterRead
	}
	return models.ExpirationTypeDeleteAfterSend
}

// ComputeExpirationStart returns the start timestamp for a message entering
// its disappearing window. An observed timestamp (a remote read marker, a
// swarm store acknowledgement) can only move the start earlier than network
// now, never later: a buggy or hostile peer must not be able to extend a
// message's life. An observed value that fails the Unix-millisecond bounds
// check, or that lies in the future, rejects the call and no start is set.
// Pass observedMs = 0 for "no observation".
func (r *Resolver) ComputeExpirationStart(mode models.ExpirationMode, observedMs int64) (int64, error) {
	if mode == models.ExpirationModeOff {
		return 0, models.NewValidationError("expiration start requested with mode off")
	}
	now := r.clock.Now()
	if observedMs == 0 {
		return now, nil
	}
	if observedMs < minValidUnixMs {
		return 0, models.NewValidationError(
			fmt.Sprintf("observed timestamp %d is not a plausible unix ms value", observedMs))
	}
	if observedMs > now {
		return 0, models.NewValidationError(
			fmt.Sprintf("observed timestamp %d is in the future", observedMs))
	}
	return observedMs, nil
}

// ControlMessageNeverExpires reports whether a control message is exempt from
// disappearing. Legacy-group control messages never expire; group-v2 ones
// may. Checked before any computed start timestamp is applied.
func (r *Resolver) ControlMessageNeverExpires(convo *models.Conversation, msg *models.Message) bool {
	return msg.IsControlMessage() && convo.Kind == models.KindLegacyGroup
}

// ApplyReceivedExpiry stamps the expiry fields of a just-received message.
// swarmExpiryMs is the authoritative remote expiry reported at retrieval time,
// 0 when unknown. alreadyRead is true when a cross-device "read up to" marker
// covers the message. The returned flag asks the caller to enqueue a remote
// TTL-update so the swarm record matches what we just decided locally.
func (r *Resolver) ApplyReceivedExpiry(convo *models.Conversation, msg *models.Message, swarmExpiryMs int64, alreadyRead bool) (needsRemoteUpdate bool, err error) {
	timerMs := msg.ExpireTimerSeconds * 1000
	if msg.ExpirationType == models.ExpirationTypeUnknown || timerMs <= 0 {
		msg.ExpirationStartTimestamp = nil
		msg.ExpiresAt = nil
		return false, nil
	}
	if r.ControlMessageNeverExpires(convo, msg) {
		msg.ExpirationStartTimestamp = nil
		msg.ExpiresAt = nil
		return false, nil
	}

	now := r.clock.Now()

	switch msg.ExpirationType {
	case models.ExpirationTypeDeleteAfterSend:
		// The swarm stored the message with its TTL already running, so the
		// local start is backdated from the remote deadline. Without a remote
		// deadline the send timestamp anchors the window.
		if swarmExpiryMs > 0 {
			setExpiry(msg, swarmExpiryMs-timerMs, swarmExpiryMs)
			return false, nil
		}
		start, serr := r.ComputeExpirationStart(models.ExpirationModeDeleteAfterSend, msg.SentAt)
		if serr != nil {
			return false, serr
		}
		setExpiry(msg, start, start+timerMs)
		return false, nil

	case models.ExpirationTypeDeleteAfterRead:
		if !alreadyRead {
			// The timer starts when this device's user actually reads it.
			msg.ExpirationStartTimestamp = nil
			msg.ExpiresAt = nil
			return false, nil
		}
		// Read on another device before we ever saw it. If the remote deadline
		// already implies the read happened in the past, adopt it so every
		// device agrees on when the message dies. Otherwise the read counts as
		// happening now, and the swarm record must be updated to match.
		if swarmExpiryMs > 0 && swarmExpiryMs <= now+timerMs {
			setExpiry(msg, swarmExpiryMs-timerMs, swarmExpiryMs)
			return false, nil
		}
		setExpiry(msg, now, now+timerMs)
		return true, nil
	}
	return false, nil
}

// StartReadExpiry starts the delete-after-read window for an incoming message
// the local user just read. readAtMs is the observed read moment; it may only
// pull the start earlier than now.
func (r *Resolver) StartReadExpiry(convo *models.Conversation, msg *models.Message, readAtMs int64) error {
	if msg.ExpirationType != models.ExpirationTypeDeleteAfterRead || msg.ExpireTimerSeconds <= 0 {
		return nil
	}
	if r.ControlMessageNeverExpires(convo, msg) {
		return nil
	}
	start, err := r.ComputeExpirationStart(models.ExpirationModeDeleteAfterRead, readAtMs)
	if err != nil {
		return err
	}
	setExpiry(msg, start, start+msg.ExpireTimerSeconds*1000)
	msg.Unread = models.ReadMessage
	return nil
}

// OutgoingExpireDetails is the wire expiration state composed for a message
// we are about to send.
type OutgoingExpireDetails struct {
	ExpirationType     models.ExpirationType
	ExpireTimerSeconds int64
	// ProjectedExpiryMs is the remote deadline assuming the message is stored
	// at creation time. 0 when the conversation does not expire.
	ProjectedExpiryMs int64
}

// ExpireDetailsForOutgoing composes the wire expiration fields for an
// outgoing message in the given conversation.
func (r *Resolver) ExpireDetailsForOutgoing(convo *models.Conversation, createdAtNetworkMs int64) OutgoingExpireDetails {
	wireType := r.ResolveWireType(convo, convo.ExpirationMode, convo.ExpireTimerSeconds)
	details := OutgoingExpireDetails{
		ExpirationType:     wireType,
		ExpireTimerSeconds: convo.ExpireTimerSeconds,
	}
	if wireType != models.ExpirationTypeUnknown && convo.ExpireTimerSeconds > 0 {
		details.ProjectedExpiryMs = createdAtNetworkMs + convo.ExpireTimerSeconds*1000
	}
	return details
}

// CheckExpiringOutgoing stamps start and deadline on an outgoing message once
// its network store time is known. Legacy-group control messages are skipped.
func (r *Resolver) CheckExpiringOutgoing(convo *models.Conversation, msg *models.Message, storedAtMs int64) error {
	if msg.ExpirationType == models.ExpirationTypeUnknown || msg.ExpireTimerSeconds <= 0 {
		return nil
	}
	if r.ControlMessageNeverExpires(convo, msg) {
		return nil
	}
	mode := models.ExpirationModeDeleteAfterSend
	if msg.ExpirationType == models.ExpirationTypeDeleteAfterRead {
		mode = models.ExpirationModeDeleteAfterRead
	}
	start, err := r.ComputeExpirationStart(mode, storedAtMs)
	if err != nil {
		return err
	}
	setExpiry(msg, start, start+msg.ExpireTimerSeconds*1000)
	return nil
}

// ForcedDeleteAfterReadSetting returns the conversation-level setting forced
// to deleteAfterRead, for locally-stored notification messages in private
// chats. Calling it on a group or note-to-self conversation is a programming
// error, since those can never be read-anchored.
func (r *Resolver) ForcedDeleteAfterReadSetting(convo *models.Conversation, timerSeconds int64) (models.ExpirationMode, error) {
	if r.isNoteToSelf(convo) || !convo.IsPrivate() {
		return models.ExpirationModeOff, models.NewValidationError(
			"deleteAfterRead cannot be forced outside a private chat")
	}
	if timerSeconds <= 0 {
		return models.ExpirationModeOff, nil
	}
	return models.ExpirationModeDeleteAfterRead, nil
}

// ForcedDeleteAfterSendSetting mirrors ForcedDeleteAfterReadSetting for the
// send-anchored mode.
func (r *Resolver) ForcedDeleteAfterSendSetting(convo *models.Conversation, timerSeconds int64) (models.ExpirationMode, error) {
	if r.isNoteToSelf(convo) || !convo.IsPrivate() {
		return models.ExpirationModeOff, models.NewValidationError(
			"deleteAfterSend cannot be forced outside a private chat")
	}
	if timerSeconds <= 0 {
		return models.ExpirationModeOff, nil
	}
	return models.ExpirationModeDeleteAfterSend, nil
}

func setExpiry(msg *models.Message, startMs, expiresAtMs int64) {
	msg.ExpirationStartTimestamp = &startMs
	msg.ExpiresAt = &expiresAtMs
}
