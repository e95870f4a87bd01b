// internal/session/manager.go

// Package session owns the session/participant lifecycle: creation from a
// pasted game link, capacity- and invite-gated joining, the per-participant
// handoff machine, and host-only soft deletion.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"squadlink/internal/apperr"
	"squadlink/internal/gamelink"
	"squadlink/internal/models"
	"squadlink/internal/notify"
	"squadlink/internal/store"
)

// LinkResolver is the slice of the gamelink resolver the manager needs.
type LinkResolver interface {
	Normalize(ctx context.Context, input string) (*gamelink.Result, error)
}

// Manager coordinates all session mutations through the store. It holds no
// per-session state itself; correctness under concurrent callers rests on the
// store's uniqueness and conditional-update guarantees.
type Manager struct {
	store    store.Store
	resolver LinkResolver
	notifier notify.Notifier
	events   *Hub
	now      func() time.Time
}

// NewManager wires a Manager. hub may be shared with the websocket layer.
func NewManager(st store.Store, resolver LinkResolver, notifier notify.Notifier, hub *Hub) *Manager {
	return &Manager{
		store:    st,
		resolver: resolver,
		notifier: notifier,
		events:   hub,
		now:      time.Now,
	}
}

// SetClock overrides the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateParams carries everything createSession needs besides the caller id.
type CreateParams struct {
	HostID          uuid.UUID
	HostName        string
	GameLink        string
	Title           string
	Visibility      string
	MaxParticipants int
	ScheduledStart  *time.Time
	IsRanked        bool
	InvitedUserIDs  []uuid.UUID
}

// Created is the result of a successful CreateSession.
type Created struct {
	Session    models.Session  `json:"session"`
	InviteCode string          `json:"invite_code"`
	Link       gamelink.Result `json:"link"`
}

// CreateSession resolves the pasted game link, validates the business rules,
// and writes the session, its host participant, and one invite code in a
// single transaction. Invite notifications are dispatched fire-and-forget.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*Created, error) {
	if p.Title == "" {
		return nil, apperr.Validation("missing_title", "title is required")
	}
	if !models.ValidVisibility(p.Visibility) {
		return nil, apperr.Validation("invalid_visibility", "visibility must be public, friends, or invite_only")
	}
	if p.MaxParticipants < models.MinParticipants || p.MaxParticipants > models.MaxParticipants {
		return nil, apperr.Validation("invalid_capacity", "max participants must be between %d and %d",
			models.MinParticipants, models.MaxParticipants)
	}
	if p.IsRanked && p.Visibility != models.VisibilityPublic {
		return nil, apperr.Validation("ranked_must_be_public", "ranked sessions must be public")
	}

	link, err := m.resolver.Normalize(ctx, p.GameLink)
	if err != nil {
		return nil, err
	}

	now := m.now()
	// Ranked sessions go live immediately; a future start only defers
	// unranked ones.
	status := models.StatusActive
	if p.ScheduledStart != nil && p.ScheduledStart.After(now) && !p.IsRanked {
		status = models.StatusScheduled
	}

	code, err := GenerateInviteCode()
	if err != nil {
		return nil, apperr.Store(err)
	}

	sess := &models.Session{
		ID:              uuid.New(),
		HostID:          p.HostID,
		GameRef:         link.GameRef,
		Title:           p.Title,
		Visibility:      p.Visibility,
		Status:          status,
		IsRanked:        p.IsRanked,
		MaxParticipants: p.MaxParticipants,
		ScheduledStart:  p.ScheduledStart,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	handoff := models.HandoffRSVPJoined
	host := &models.Participant{
		SessionID:    sess.ID,
		UserID:       p.HostID,
		Role:         models.RoleHost,
		State:        models.StateJoined,
		HandoffState: &handoff,
		JoinedAt:     now,
	}
	invite := &models.InviteCode{
		SessionID: sess.ID,
		Code:      code,
		CreatedBy: p.HostID,
		CreatedAt: now,
	}

	if err := m.store.CreateSession(ctx, sess, host, invite); err != nil {
		return nil, err
	}

	if len(p.InvitedUserIDs) > 0 {
		// Detached from the request context: a slow notifier must not hold
		// up or fail creation.
		go m.dispatchInvites(sess.ID, p.Title, p.HostName, p.InvitedUserIDs)
	}

	return &Created{Session: *sess, InviteCode: code, Link: *link}, nil
}

func (m *Manager) dispatchInvites(sessionID uuid.UUID, title, hostName string, userIDs []uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, userID := range userIDs {
		if err := m.notifier.Notify(ctx, userID, sessionID, title, hostName); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("invite notification failed")
		}
	}
}

// JoinSession adds userID as a member. Duplicate joins surface as conflicts
// from the store's uniqueness guarantee rather than a pre-check, so
// concurrent double-joins cannot both succeed. The capacity read is
// best-effort by design; a violation that slips past it is caught by the
// store and reported as a conflict.
func (m *Manager) JoinSession(ctx context.Context, sessionID, userID uuid.UUID, inviteCode string) (*models.Participant, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusCancelled || sess.ArchivedAt != nil {
		return nil, apperr.NotFound("session_not_found", "session not found")
	}

	joined, err := m.store.CountJoinedParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if joined >= sess.MaxParticipants {
		return nil, apperr.Conflict("session_full", "session is at capacity")
	}

	if sess.Visibility == models.VisibilityInviteOnly {
		if inviteCode == "" {
			return nil, apperr.Forbidden("invite_required", "session requires an invite code")
		}
		inv, err := m.store.GetInviteByCode(ctx, inviteCode)
		if err != nil || inv.SessionID != sessionID {
			return nil, apperr.Forbidden("invalid_invite", "invite code is not valid for this session")
		}
	}

	handoff := models.HandoffRSVPJoined
	part := &models.Participant{
		SessionID:    sessionID,
		UserID:       userID,
		Role:         models.RoleMember,
		State:        models.StateJoined,
		HandoffState: &handoff,
		JoinedAt:     m.now(),
	}
	if err := m.store.InsertParticipant(ctx, part); err != nil {
		return nil, err
	}

	m.events.Publish(Event{
		Type:      EventParticipantJoined,
		SessionID: sessionID,
		UserID:    userID,
		At:        part.JoinedAt,
	})
	return part, nil
}

// UpdateHandoffState records a participant's self-reported handoff progress.
// opened_roblox and confirmed_in_game are unordered and stuck is reachable
// from anywhere; client reporting is too unreliable for a strict protocol.
func (m *Manager) UpdateHandoffState(ctx context.Context, sessionID, userID uuid.UUID, next string) error {
	if !models.ValidHandoffTarget(next) {
		return apperr.Validation("invalid_handoff_state", "handoff state must be opened_roblox, confirmed_in_game, or stuck")
	}
	if err := m.store.UpdateHandoffState(ctx, sessionID, userID, next); err != nil {
		return err
	}
	m.events.Publish(Event{
		Type:         EventHandoffChanged,
		SessionID:    sessionID,
		UserID:       userID,
		HandoffState: next,
		At:           m.now(),
	})
	return nil
}

// LeaveSession marks a member's participant row as left, freeing a capacity
// slot. The host cannot leave their own session; they delete it instead.
func (m *Manager) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == models.StatusCancelled || sess.ArchivedAt != nil {
		return apperr.NotFound("session_not_found", "session not found")
	}
	if sess.HostID == userID {
		return apperr.Forbidden("host_cannot_leave", "the host cannot leave; delete the session instead")
	}
	ok, err := m.store.SetParticipantState(ctx, sessionID, userID, models.StateJoined, models.StateLeft)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("participant_not_found", "participant not found")
	}
	m.events.Publish(Event{Type: EventParticipantLeft, SessionID: sessionID, UserID: userID, At: m.now()})
	return nil
}

// DeleteSession soft-deletes: status flips to cancelled, rows stay. Only the
// host may delete; a second delete is a conflict.
func (m *Manager) DeleteSession(ctx context.Context, sessionID, requesterID uuid.UUID) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostID != requesterID {
		return apperr.Forbidden("not_host", "only the host may delete a session")
	}
	if sess.Status == models.StatusCancelled {
		return apperr.Conflict("already_cancelled", "session is already cancelled")
	}
	ok, err := m.store.TransitionSessionStatus(ctx, sessionID, sess.Status, models.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race with another transition; treat as a double-delete.
		return apperr.Conflict("already_cancelled", "session is already cancelled")
	}
	m.events.Publish(Event{Type: EventSessionCancelled, SessionID: sessionID, At: m.now()})
	return nil
}

// BulkDeleteSessions deletes a batch on behalf of requesterID and returns how
// many succeeded. One failure does not abort the rest.
func (m *Manager) BulkDeleteSessions(ctx context.Context, ids []uuid.UUID, requesterID uuid.UUID) (int, error) {
	deleted := 0
	for _, id := range ids {
		if err := m.DeleteSession(ctx, id, requesterID); err != nil {
			log.WithError(err).WithField("session_id", id).Debug("bulk delete: skipping session")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Detail is a session plus its joined participants.
type Detail struct {
	Session      models.Session       `json:"session"`
	Participants []models.Participant `json:"participants"`
}

// GetSessionByID returns the session and its joined participants.
func (m *Manager) GetSessionByID(ctx context.Context, id uuid.UUID) (*Detail, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	parts, err := m.store.ListJoinedParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Session: *sess, Participants: parts}, nil
}

// ListSessions passes the filter through to the store.
func (m *Manager) ListSessions(ctx context.Context, f store.SessionFilter) ([]models.Session, error) {
	return m.store.ListSessions(ctx, f)
}

// InviteSummary is what an invitee sees before joining.
type InviteSummary struct {
	SessionID       uuid.UUID `json:"session_id"`
	Title           string    `json:"title"`
	GameRef         string    `json:"game_ref"`
	HostID          uuid.UUID `json:"host_id"`
	Status          string    `json:"status"`
	JoinedCount     int       `json:"joined_count"`
	MaxParticipants int       `json:"max_participants"`
}

// GetInviteSummary resolves an invite code to a joinable-session preview.
func (m *Manager) GetInviteSummary(ctx context.Context, code string) (*InviteSummary, error) {
	inv, err := m.store.GetInviteByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.GetSession(ctx, inv.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusCancelled || sess.ArchivedAt != nil {
		return nil, apperr.NotFound("invite_not_found", "invite code not found")
	}
	joined, err := m.store.CountJoinedParticipants(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return &InviteSummary{
		SessionID:       sess.ID,
		Title:           sess.Title,
		GameRef:         sess.GameRef,
		HostID:          sess.HostID,
		Status:          sess.Status,
		JoinedCount:     joined,
		MaxParticipants: sess.MaxParticipants,
	}, nil
}
