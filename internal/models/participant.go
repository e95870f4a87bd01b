// internal/models/participant.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant roles and states.
const (
	RoleHost   = "host"
	RoleMember = "member"

	StateJoined = "joined"
	StateLeft   = "left"
)

// Handoff states: per-participant tracking of whether they actually reached
// the external game after joining. The machine is intentionally permissive:
// either client screen can report opened/confirmed, and stuck is reachable
// from anywhere.
const (
	HandoffRSVPJoined      = "rsvp_joined"
	HandoffOpenedRoblox    = "opened_roblox"
	HandoffConfirmedInGame = "confirmed_in_game"
	HandoffStuck           = "stuck"
)

// Participant represents a row in the session_participants table.
// (SessionID, UserID) is unique; exactly one row per session has RoleHost.
// HandoffState is a pointer because pre-migration schemas lack the column.
type Participant struct {
	SessionID    uuid.UUID `json:"session_id"`
	UserID       uuid.UUID `json:"user_id"`
	Role         string    `json:"role"`
	State        string    `json:"state"`
	HandoffState *string   `json:"handoff_state,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// ValidHandoffTarget reports whether s is a state a client may move a
// participant to. rsvp_joined is only ever set at insert time.
func ValidHandoffTarget(s string) bool {
	return s == HandoffOpenedRoblox || s == HandoffConfirmedInGame || s == HandoffStuck
}
