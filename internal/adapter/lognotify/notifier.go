// Package lognotify implements the notifier port on the structured log.
// It is the always-on fallback when no external notifier is configured.
package lognotify

import (
	"context"
	"log/slog"

	"github.com/openchamber/streamsync/internal/port/notifier"
)

// Notifier writes notifications to the structured log.
type Notifier struct {
	log *slog.Logger
}

// New creates a log-backed notifier.
func New(log *slog.Logger) *Notifier {
	return &Notifier{log: log}
}

// Name implements notifier.Notifier.
func (n *Notifier) Name() string { return "log" }

// Capabilities implements notifier.Notifier.
func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send implements notifier.Notifier.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	n.log.Info("notification",
		"title", notification.Title,
		"body", notification.Body,
		"level", notification.Level,
		"session", notification.SessionID,
		"source", notification.Source,
	)
	return nil
}
