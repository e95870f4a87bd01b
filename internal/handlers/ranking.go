// internal/handlers/ranking.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"squadlink/internal/ranking"
)

type submitResultRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	WinnerID  uuid.UUID `json:"winner_id"`
}

func (s *Server) SubmitMatchResultHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	callerID, err := s.caller(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	var req submitResultRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	outcome, err := s.Ranking.SubmitMatchResult(r.Context(), req.SessionID, req.WinnerID, callerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// A decided session changes the board at every page size.
	s.Cache.InvalidatePrefix(r.Context(), "leaderboard:")
	s.writeJSON(w, http.StatusOK, outcome)
}

func leaderboardKey(limit int) string {
	return "leaderboard:" + strconv.Itoa(limit)
}

func (s *Server) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	cacheKey := leaderboardKey(limit)
	var cached []ranking.LeaderboardEntry
	if s.Cache.GetJSON(r.Context(), cacheKey, &cached) {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	board, err := s.Ranking.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Cache.SetJSON(r.Context(), cacheKey, board)
	s.writeJSON(w, http.StatusOK, board)
}
