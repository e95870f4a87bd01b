// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"squadlink/internal/apperr"
	"squadlink/internal/auth"
)

// caller extracts and verifies the authenticated user id from the request:
// an Authorization bearer token, or the auth_token cookie.
func (s *Server) caller(r *http.Request) (uuid.UUID, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if c, err := r.Cookie("auth_token"); err == nil {
		token = c.Value
	}
	if token == "" {
		return uuid.Nil, fmt.Errorf("missing auth token")
	}
	sub, err := auth.Authenticate(token)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in token: %w", err)
	}
	return userID, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.WithError(err).Warn("failed to encode response")
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors are
// reported as opaque 500s; the underlying text stays in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindRateLimit:
		status = http.StatusTooManyRequests
	case apperr.KindUpstream:
		status = http.StatusBadGateway
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		s.Logger.WithError(err).Error("unclassified error")
		s.writeJSON(w, status, errorBody{Error: "internal_error", Message: "internal error"})
		return
	}
	if cause := errors.Unwrap(appErr); cause != nil {
		s.Logger.WithError(cause).WithField("code", appErr.Code).Warn(appErr.Message)
	}
	s.writeJSON(w, status, errorBody{Error: appErr.Code, Message: appErr.Message})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("bad_request", "malformed request body")
	}
	return nil
}
