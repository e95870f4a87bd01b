// internal/handlers/session.go
package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"squadlink/internal/apperr"
	"squadlink/internal/models"
	"squadlink/internal/session"
	"squadlink/internal/store"
)

type createSessionRequest struct {
	GameLink        string      `json:"game_link"`
	Title           string      `json:"title"`
	Visibility      string      `json:"visibility"`
	MaxParticipants int         `json:"max_participants"`
	ScheduledStart  *time.Time  `json:"scheduled_start,omitempty"`
	IsRanked        bool        `json:"is_ranked"`
	InvitedUserIDs  []uuid.UUID `json:"invited_user_ids,omitempty"`
	HostName        string      `json:"host_name,omitempty"`
}

func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.Sessions.CreateSession(r.Context(), session.CreateParams{
		HostID:          callerID,
		HostName:        req.HostName,
		GameLink:        req.GameLink,
		Title:           req.Title,
		Visibility:      req.Visibility,
		MaxParticipants: req.MaxParticipants,
		ScheduledStart:  req.ScheduledStart,
		IsRanked:        req.IsRanked,
		InvitedUserIDs:  req.InvitedUserIDs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	q := r.URL.Query()
	filter := store.SessionFilter{
		Status:     q.Get("status"),
		Visibility: q.Get("visibility"),
		Limit:      50,
	}
	if hostStr := q.Get("host_id"); hostStr != "" {
		hostID, err := uuid.Parse(hostStr)
		if err != nil {
			s.writeError(w, apperr.Validation("bad_request", "invalid host_id"))
			return
		}
		filter.HostID = hostID
	}
	sessions, err := s.Sessions.ListSessions(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, apperr.Validation("bad_request", "invalid session id"))
		return
	}
	detail, err := s.Sessions.GetSessionByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

type joinSessionRequest struct {
	SessionID  uuid.UUID `json:"session_id"`
	InviteCode string    `json:"invite_code,omitempty"`
}

func (s *Server) JoinSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req joinSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	part, err := s.Sessions.JoinSession(r.Context(), req.SessionID, callerID, req.InviteCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, part)
}

type leaveSessionRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Server) LeaveSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req leaveSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Sessions.LeaveSession(r.Context(), req.SessionID, callerID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": models.StateLeft})
}

type handoffRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	State     string    `json:"state"`
}

func (s *Server) UpdateHandoffHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req handoffRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Sessions.UpdateHandoffState(r.Context(), req.SessionID, callerID, req.State); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": req.State})
}

type deleteSessionRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Server) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req deleteSessionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.Sessions.DeleteSession(r.Context(), req.SessionID, callerID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

type bulkDeleteRequest struct {
	SessionIDs []uuid.UUID `json:"session_ids"`
}

func (s *Server) BulkDeleteSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	deleted, err := s.Sessions.BulkDeleteSessions(r.Context(), req.SessionIDs, callerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) InviteSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, apperr.Validation("bad_request", "missing invite code"))
		return
	}

	cacheKey := "invite:" + code
	var cached session.InviteSummary
	if s.Cache.GetJSON(r.Context(), cacheKey, &cached) {
		s.writeJSON(w, http.StatusOK, &cached)
		return
	}

	summary, err := s.Sessions.GetInviteSummary(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Cache.SetJSON(r.Context(), cacheKey, summary)
	s.writeJSON(w, http.StatusOK, summary)
}
