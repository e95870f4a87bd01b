// internal/store/store.go

// Package store is the persistence boundary of the core. Implementations map
// raw rows to the typed entities of internal/models at this boundary;
// uniqueness violations surface as apperr conflicts, and absent optional
// columns (pre-migration schemas) surface as *MissingColumnError so callers
// can run their degraded write paths.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"squadlink/internal/models"
)

// MissingColumnError reports that a write touched a column the live schema
// does not have yet.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q does not exist in the live schema", e.Column)
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status     string
	Visibility string
	HostID     uuid.UUID
	Limit      int
}

// Standing is one participant's ranking after an atomic result commit.
type Standing struct {
	Ranking models.UserRanking `json:"ranking"`
	Won     bool               `json:"won"`
}

// Store is the relational-store contract consumed by the session manager,
// ranking engine, and sweeper. All methods are safe for concurrent use across
// processes; conditional updates report whether the row still matched.
type Store interface {
	// CreateSession inserts the session, its host participant, and one invite
	// code in a single transaction.
	CreateSession(ctx context.Context, s *models.Session, host *models.Participant, invite *models.InviteCode) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, error)

	// TransitionSessionStatus flips status from → to only if the row still has
	// status = from; reports whether a row was updated.
	TransitionSessionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// InsertParticipant inserts a member row. A duplicate (sessionID, userID)
	// pair returns an apperr conflict, never a silent success.
	InsertParticipant(ctx context.Context, p *models.Participant) error
	ListJoinedParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	CountJoinedParticipants(ctx context.Context, sessionID uuid.UUID) (int, error)
	UpdateHandoffState(ctx context.Context, sessionID, userID uuid.UUID, state string) error

	// SetParticipantState flips state from → to only if the row still has
	// state = from; reports whether a row was updated.
	SetParticipantState(ctx context.Context, sessionID, userID uuid.UUID, from, to string) (bool, error)

	GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error)
	GetInviteBySession(ctx context.Context, sessionID uuid.UUID) (*models.InviteCode, error)

	// CountRankedMatchesBetween counts ranked results since the cutoff for
	// sessions in which both users were joined participants.
	CountRankedMatchesBetween(ctx context.Context, a, b uuid.UUID, since time.Time) (int, error)

	// RecordMatchOutcome is the single atomic multi-row primitive: inserts the
	// match result (duplicate session → conflict), applies +delta to the
	// winner and -delta to every loser (creating rankings lazily at the
	// default rating), and returns the post-update standings, winner first.
	RecordMatchOutcome(ctx context.Context, result *models.MatchResult, losers []uuid.UUID, delta int) ([]Standing, error)

	TopRankings(ctx context.Context, limit int) ([]models.UserRanking, error)

	// Sweeper queries: bounded batches of ids still matching the phase filter.
	ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// ArchiveSession stamps archived_at only if the session is still completed
	// and unarchived. Returns *MissingColumnError on pre-migration schemas.
	ArchiveSession(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}
