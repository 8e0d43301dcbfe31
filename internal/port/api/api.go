// Package api defines the port to the upstream session/message HTTP API,
// used for resync, bootstrap, and prompt resolution.
package api

import (
	"context"
	"encoding/json"

	"github.com/openchamber/streamsync/internal/domain/session"
)

// PermissionReply is the user's decision on a permission prompt.
type PermissionReply string

// Permission decisions.
const (
	PermissionAllow       PermissionReply = "allow"
	PermissionAllowAlways PermissionReply = "always"
	PermissionDeny        PermissionReply = "deny"
)

// Client is the authoritative read/respond interface to the upstream service.
type Client interface {
	// ListSessions returns all known sessions.
	ListSessions(ctx context.Context) ([]session.Session, error)

	// ListMessages returns up to limit messages (with parts) for a session,
	// newest last. limit <= 0 means the server default.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error)

	// RespondPermission resolves a permission prompt. Upstream rejections
	// are returned as errors to the caller.
	RespondPermission(ctx context.Context, sessionID, requestID string, reply PermissionReply) error

	// RespondQuestion resolves a question prompt with the given answers.
	RespondQuestion(ctx context.Context, sessionID, requestID string, answers json.RawMessage) error
}
