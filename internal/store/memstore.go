// internal/store/memstore.go
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"squadlink/internal/apperr"
	"squadlink/internal/models"
)

// Memory is a mutex-guarded in-memory Store used by tests and DB-less dev
// runs. It honors the same uniqueness and conditional-update semantics as the
// Postgres implementation.
type Memory struct {
	mu sync.Mutex

	// Now is the clock used for updated_at stamping. Tests override it.
	Now func() time.Time

	// Schema simulation flags for the compatibility shims.
	MissingHandoffColumn  bool
	MissingArchivedColumn bool

	sessions     map[uuid.UUID]*models.Session
	participants map[uuid.UUID]map[uuid.UUID]*models.Participant // sessionID -> userID -> row
	invites      map[string]*models.InviteCode                   // code -> row
	results      map[uuid.UUID]*models.MatchResult               // sessionID -> row
	rankings     map[uuid.UUID]*models.UserRanking
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		Now:          time.Now,
		sessions:     make(map[uuid.UUID]*models.Session),
		participants: make(map[uuid.UUID]map[uuid.UUID]*models.Participant),
		invites:      make(map[string]*models.InviteCode),
		results:      make(map[uuid.UUID]*models.MatchResult),
		rankings:     make(map[uuid.UUID]*models.UserRanking),
	}
}

func (m *Memory) CreateSession(ctx context.Context, s *models.Session, host *models.Participant, invite *models.InviteCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return apperr.Conflict("session_exists", "session already exists")
	}
	sc := *s
	m.sessions[s.ID] = &sc

	hc := *host
	if m.MissingHandoffColumn {
		hc.HandoffState = nil
	}
	m.participants[s.ID] = map[uuid.UUID]*models.Participant{host.UserID: &hc}

	ic := *invite
	m.invites[invite.Code] = &ic
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session_not_found", "session not found")
	}
	sc := *s
	if m.MissingArchivedColumn {
		sc.ArchivedAt = nil
	}
	return &sc, nil
}

func (m *Memory) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Session
	for _, s := range m.sessions {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Visibility != "" && s.Visibility != f.Visibility {
			continue
		}
		if f.HostID != uuid.Nil && s.HostID != f.HostID {
			continue
		}
		sc := *s
		if m.MissingArchivedColumn {
			sc.ArchivedAt = nil
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) TransitionSessionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = m.Now()
	return true, nil
}

func (m *Memory) InsertParticipant(ctx context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byUser, ok := m.participants[p.SessionID]
	if !ok {
		byUser = make(map[uuid.UUID]*models.Participant)
		m.participants[p.SessionID] = byUser
	}
	if _, dup := byUser[p.UserID]; dup {
		return apperr.Conflict("already_joined", "user is already a participant of this session")
	}
	pc := *p
	if m.MissingHandoffColumn {
		pc.HandoffState = nil
	}
	byUser[p.UserID] = &pc
	return nil
}

func (m *Memory) ListJoinedParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Participant
	for _, p := range m.participants[sessionID] {
		if p.State == models.StateJoined {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) CountJoinedParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.participants[sessionID] {
		if p.State == models.StateJoined {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateHandoffState(ctx context.Context, sessionID, userID uuid.UUID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[sessionID][userID]
	if !ok {
		return apperr.NotFound("participant_not_found", "participant not found")
	}
	if m.MissingHandoffColumn {
		return nil
	}
	st := state
	p.HandoffState = &st
	return nil
}

func (m *Memory) SetParticipantState(ctx context.Context, sessionID, userID uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[sessionID][userID]
	if !ok || p.State != from {
		return false, nil
	}
	p.State = to
	return true, nil
}

func (m *Memory) GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[code]
	if !ok {
		return nil, apperr.NotFound("invite_not_found", "invite code not found")
	}
	ic := *inv
	return &ic, nil
}

func (m *Memory) GetInviteBySession(ctx context.Context, sessionID uuid.UUID) (*models.InviteCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.InviteCode
	for _, inv := range m.invites {
		if inv.SessionID != sessionID {
			continue
		}
		if best == nil || inv.CreatedAt.Before(best.CreatedAt) {
			best = inv
		}
	}
	if best == nil {
		return nil, apperr.NotFound("invite_not_found", "invite code not found")
	}
	ic := *best
	return &ic, nil
}

func (m *Memory) CountRankedMatchesBetween(ctx context.Context, a, b uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for sessionID, res := range m.results {
		if res.CreatedAt.Before(since) {
			continue
		}
		pa, okA := m.participants[sessionID][a]
		pb, okB := m.participants[sessionID][b]
		if okA && okB && pa.State == models.StateJoined && pb.State == models.StateJoined {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordMatchOutcome(ctx context.Context, result *models.MatchResult, losers []uuid.UUID, delta int) ([]Standing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.results[result.SessionID]; dup {
		return nil, apperr.Conflict("result_already_submitted", "a result has already been submitted for this session")
	}
	rc := *result
	m.results[result.SessionID] = &rc

	now := m.Now()
	apply := func(userID uuid.UUID, won bool) Standing {
		r, ok := m.rankings[userID]
		if !ok {
			r = &models.UserRanking{UserID: userID, Rating: models.DefaultRating}
			m.rankings[userID] = r
		}
		if won {
			r.Rating += delta
			r.Wins++
		} else {
			r.Rating -= delta
			r.Losses++
		}
		r.UpdatedAt = now
		return Standing{Ranking: *r, Won: won}
	}

	standings := make([]Standing, 0, len(losers)+1)
	standings = append(standings, apply(result.WinnerID, true))
	for _, loser := range losers {
		standings = append(standings, apply(loser, false))
	}
	return standings, nil
}

// Ranking returns a copy of a user's ranking row, if any. Test helper.
func (m *Memory) Ranking(userID uuid.UUID) (models.UserRanking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rankings[userID]
	if !ok {
		return models.UserRanking{}, false
	}
	return *r, true
}

func (m *Memory) TopRankings(ctx context.Context, limit int) ([]models.UserRanking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.UserRanking, 0, len(m.rankings))
	for _, r := range m.rankings {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []uuid.UUID
	for _, s := range m.sessions {
		if s.Status != models.StatusActive {
			continue
		}
		start := s.CreatedAt
		if s.ScheduledStart != nil {
			start = *s.ScheduledStart
		}
		if start.Before(cutoff) {
			out = append(out, s.ID)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []uuid.UUID
	for _, s := range m.sessions {
		if s.Status != models.StatusCompleted || s.UpdatedAt.After(cutoff) {
			continue
		}
		if !m.MissingArchivedColumn && s.ArchivedAt != nil {
			continue
		}
		out = append(out, s.ID)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ArchiveSession(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MissingArchivedColumn {
		return false, &MissingColumnError{Column: "archived_at"}
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != models.StatusCompleted || s.ArchivedAt != nil {
		return false, nil
	}
	stamp := at
	s.ArchivedAt = &stamp
	s.UpdatedAt = m.Now()
	return true, nil
}
