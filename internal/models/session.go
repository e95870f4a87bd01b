// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Session visibility values.
const (
	VisibilityPublic     = "public"
	VisibilityFriends    = "friends"
	VisibilityInviteOnly = "invite_only"
)

// Session status values.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Session capacity bounds.
const (
	MinParticipants = 2
	MaxParticipants = 50
)

// Session represents a row in the sessions table: a host plus participants
// gathered around one external game reference. Rows are never hard-deleted;
// deletion flips status to cancelled.
type Session struct {
	ID              uuid.UUID  `json:"id"`
	HostID          uuid.UUID  `json:"host_id"`
	GameRef         string     `json:"game_ref"`
	Title           string     `json:"title"`
	Visibility      string     `json:"visibility"` // 'public', 'friends', or 'invite_only'
	Status          string     `json:"status"`     // 'scheduled', 'active', 'completed', 'cancelled'
	IsRanked        bool       `json:"is_ranked"`
	MaxParticipants int        `json:"max_participants"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

// ValidVisibility reports whether v is one of the accepted visibility values.
func ValidVisibility(v string) bool {
	return v == VisibilityPublic || v == VisibilityFriends || v == VisibilityInviteOnly
}
