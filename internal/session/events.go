// internal/session/events.go
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types fanned out to session subscribers.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventHandoffChanged    = "handoff_changed"
	EventSessionCancelled  = "session_cancelled"
	EventSessionCompleted  = "session_completed"
)

// Event is one session-scoped notification pushed to websocket subscribers.
type Event struct {
	Type         string    `json:"type"`
	SessionID    uuid.UUID `json:"session_id"`
	UserID       uuid.UUID `json:"user_id,omitempty"`
	HandoffState string    `json:"handoff_state,omitempty"`
	At           time.Time `json:"at"`
}

// Hub fans session events out to in-process subscribers. Delivery is
// best-effort: a slow subscriber drops events rather than blocking a core
// mutation.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan Event]struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan Event]struct{})}
}

// Subscribe registers for events on one session. The returned cancel func
// must be called exactly once; the channel is closed by it.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of its session without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
