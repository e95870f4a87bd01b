// internal/notify/notify.go

// Package notify is the fire-and-forget push-notification collaborator.
// Delivery is owned by an external service; implementations here must never
// block or fail the operations that trigger them.
package notify

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Notifier delivers a session invite to one user.
type Notifier interface {
	Notify(ctx context.Context, userID, sessionID uuid.UUID, title, hostName string) error
}

// LogNotifier is the dev/no-op implementation: it records the intent and
// succeeds.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID, sessionID uuid.UUID, title, hostName string) error {
	log.WithFields(log.Fields{
		"user_id":    userID,
		"session_id": sessionID,
		"title":      title,
	}).Debug("invite notification (noop)")
	return nil
}
