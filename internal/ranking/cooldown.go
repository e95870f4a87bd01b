// internal/ranking/cooldown.go
package ranking

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// evictionThreshold bounds the tracker: once the map grows past it, expired
// entries are swept opportunistically on the next acquire.
const evictionThreshold = 1024

type cooldownKey struct {
	userID    uuid.UUID
	sessionID uuid.UUID
}

// cooldownTracker suppresses duplicate submissions per (user, session) inside
// a short window. It is per-process and reset on restart: a UX guard against
// double-taps. Real idempotency rests on the store's match-result uniqueness.
type cooldownTracker struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[cooldownKey]time.Time
	now     func() time.Time
}

func newCooldownTracker(window time.Duration, now func() time.Time) *cooldownTracker {
	return &cooldownTracker{
		window:  window,
		entries: make(map[cooldownKey]time.Time),
		now:     now,
	}
}

// blocked reports whether the pair is inside the window. Checking does not
// consume the window: a submission rejected by a later gate (say a mistyped
// winner) must not rate-limit the corrected retry.
func (c *cooldownTracker) blocked(userID, sessionID uuid.UUID) bool {
	key := cooldownKey{userID: userID, sessionID: sessionID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.entries[key]
	return ok && now.Sub(last) < c.window
}

// record starts the window for the pair. Called once a submission reaches
// the store; a later attempt inside the window does not extend it.
func (c *cooldownTracker) record(userID, sessionID uuid.UUID) {
	key := cooldownKey{userID: userID, sessionID: sessionID}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > evictionThreshold {
		for k, at := range c.entries {
			if now.Sub(at) >= c.window {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = now
}
