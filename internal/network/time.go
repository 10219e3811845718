// Package network provides the network time oracle consumed by the
// disappearing-message resolver and the expiration scheduler.
package network

import (
	"log/slog"
	"sync"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/observability"
)

// Clock supplies the current time in network consensus terms. Components that
// stamp or compare expiry timestamps must use this rather than the wall clock.
type Clock interface {
	// Now returns the current network time in milliseconds.
	Now() int64
	// NowSeconds returns the current network time in seconds.
	NowSeconds() int64
}

const offsetWindowSize = 10

// Time tracks a rolling average of the offset between our wall clock and the
// timestamps reported by the swarm nodes we talk to.
type Time struct {
	mu      sync.Mutex
	offsets [offsetWindowSize]int64
	filled  [offsetWindowSize]bool
	index   int
}

// NewTime returns a Time with no offset observations yet; until the first
// observation it reports plain wall-clock time.
func NewTime() *Time {
	return &Time{}
}

// SetLatestOffset records a new offset observation, in milliseconds, taken from
// a swarm response. The request name is only used for logging.
func (t *Time) SetLatestOffset(offsetMs int64, request string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := int64(0)
	if t.filled[t.index] {
		previous = t.offsets[t.index]
	}
	first := true
	for _, f := range t.filled {
		if f {
			first = false
			break
		}
	}

	t.index = (t.index + 1) % offsetWindowSize
	t.offsets[t.index] = offsetMs
	t.filled[t.index] = true

	if first {
		observability.GlobalLogger.Info("first timestamp offset received",
			slog.Int64("offset_ms", offsetMs))
	} else if abs64(previous-offsetMs) > 1000 {
		observability.GlobalLogger.Debug("timestamp offset changed more than 1s",
			slog.Int64("previous_ms", previous),
			slog.Int64("new_ms", offsetMs),
			slog.String("request", request))
	}
}

// Offset returns the rolling average offset, or 0 when nothing was observed yet.
func (t *Time) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.averageLocked()
}

// Now implements Clock.
func (t *Time) Now() int64 {
	return time.Now().UnixMilli() - t.Offset()
}

// NowSeconds implements Clock.
func (t *Time) NowSeconds() int64 {
	return t.Now() / 1000
}

// Reset drops all offset observations.
func (t *Time) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets = [offsetWindowSize]int64{}
	t.filled = [offsetWindowSize]bool{}
	t.index = 0
}

func (t *Time) averageLocked() int64 {
	var sum, n int64
	for i, f := range t.filled {
		if !f {
			continue
		}
		sum += t.offsets[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
