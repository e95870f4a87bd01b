// internal/handlers/api.go

// Package handlers is the thin HTTP surface over the core: it authenticates
// the caller token, decodes the request, invokes the session manager or
// ranking engine, and encodes the result. No business rule lives here.
package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"squadlink/internal/cache"
	"squadlink/internal/ranking"
	"squadlink/internal/session"
	"squadlink/internal/sweeper"
)

// Server bundles the core components the HTTP layer fronts.
type Server struct {
	Sessions *session.Manager
	Ranking  *ranking.Engine
	Sweeper  *sweeper.Sweeper
	Cache    *cache.ResponseCache
	Hub      *session.Hub
	Logger   *logrus.Logger
}

// NewServer wires a Server. cache may be nil (always-miss).
func NewServer(sessions *session.Manager, rankingEngine *ranking.Engine, sw *sweeper.Sweeper, c *cache.ResponseCache, hub *session.Hub, logger *logrus.Logger) *Server {
	return &Server{
		Sessions: sessions,
		Ranking:  rankingEngine,
		Sweeper:  sw,
		Cache:    c,
		Hub:      hub,
		Logger:   logger,
	}
}

// Register attaches every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sessions/create", s.CreateSessionHandler)
	mux.HandleFunc("/sessions/list", s.ListSessionsHandler)
	mux.HandleFunc("/sessions/get", s.GetSessionHandler)
	mux.HandleFunc("/sessions/join", s.JoinSessionHandler)
	mux.HandleFunc("/sessions/leave", s.LeaveSessionHandler)
	mux.HandleFunc("/sessions/handoff", s.UpdateHandoffHandler)
	mux.HandleFunc("/sessions/delete", s.DeleteSessionHandler)
	mux.HandleFunc("/sessions/bulk_delete", s.BulkDeleteSessionsHandler)
	mux.HandleFunc("/sessions/ws/", s.SessionEventsWSHandler)
	mux.HandleFunc("/invites/summary", s.InviteSummaryHandler)
	mux.HandleFunc("/matches/submit", s.SubmitMatchResultHandler)
	mux.HandleFunc("/leaderboard", s.LeaderboardHandler)
	mux.HandleFunc("/admin/sweep", s.RunSweepHandler)
}

// RunSweepHandler triggers one lifecycle sweep outside the timer, for ops use.
func (s *Server) RunSweepHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	report, err := s.Sweeper.Run(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
