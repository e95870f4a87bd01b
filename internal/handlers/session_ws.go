// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"squadlink/internal/middleware"
)

// SessionEventsWSHandler streams join/handoff/lifecycle events for one
// session to a subscribed client, e.g. the host screen watching who actually
// made it into the game. Delivery is best-effort; clients reconcile with
// /sessions/get on reconnect.
func (s *Server) SessionEventsWSHandler(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/sessions/ws/")
	sessionID, err := uuid.Parse(strings.TrimSuffix(idStr, "/"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	if _, err := s.caller(r); err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	// The session must exist before the upgrade; cancelled ones are hidden.
	if _, err := s.Sessions.GetSessionByID(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"session_events"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "session_events" {
		c.Close(websocket.StatusPolicyViolation, "client must speak the session_events subprotocol")
		return
	}

	events, cancelSub := s.Hub.Subscribe(sessionID)
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader only watches for the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, nil)
			c.Close(websocket.StatusNormalClosure, "bye")
			return
		case ev := <-events:
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c, ev)
			cancelWrite()
			if err != nil {
				middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
				return
			}
		}
	}
}
