// Package notifier defines the notification port (interface) and capabilities.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag"`    // dedupe key; repeated tags replace, not stack
	Level     string `json:"level"`  // "info", "success", "warning", "error"
	SessionID string `json:"sessionID,omitempty"`
	Source    string `json:"source"` // e.g. "agent.completed", "permission.asked"
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Replaceable    bool `json:"replaceable"` // supports tag-based replacement
}

// Notifier is the port interface for surfacing system notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "nats", "log").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
