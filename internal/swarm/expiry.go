// Package swarm declares the interfaces of the replicated remote store that
// tracks authoritative per-message TTLs. The native client implementing them
// lives outside this module.
package swarm

import "context"

// ExpiringDetail describes one message whose remote TTL must be shortened.
type ExpiringDetail struct {
	MessageHash   string
	ExpireTimerMs int64
	// ReadAt is the expiration start timestamp (ms) observed locally.
	ReadAt int64
}

// UpdatedExpiry is the authoritative new TTL the swarm returned for a hash.
// Hashes absent from the response are untouched remotely.
type UpdatedExpiry struct {
	MessageHash     string
	UpdatedExpiryMs int64
}

// ExpiryService shortens remote TTLs. Extension is deliberately not exposed on
// this path. Calls are batched and idempotent: the swarm always answers with
// absolute expiry values, never deltas.
type ExpiryService interface {
	ShortenExpiry(ctx context.Context, details []ExpiringDetail) ([]UpdatedExpiry, error)
}
