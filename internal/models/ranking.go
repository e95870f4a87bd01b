// internal/models/ranking.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultRating is the rating a user starts from on first ranked interaction.
const DefaultRating = 1000

// InviteCode gates joining of invite_only sessions. Immutable after creation.
type InviteCode struct {
	SessionID uuid.UUID `json:"session_id"`
	Code      string    `json:"code"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchResult records the outcome of a ranked session. SessionID is unique:
// at most one result per session, enforced by the store, which is what makes
// result submission idempotent. Immutable after insert.
type MatchResult struct {
	SessionID   uuid.UUID `json:"session_id"`
	WinnerID    uuid.UUID `json:"winner_id"`
	RatingDelta int       `json:"rating_delta"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRanking is a user's persistent competitive standing. Created lazily on
// first ranked interaction; mutated only inside the atomic result commit.
type UserRanking struct {
	UserID    uuid.UUID `json:"user_id"`
	Rating    int       `json:"rating"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	UpdatedAt time.Time `json:"updated_at"`
}
