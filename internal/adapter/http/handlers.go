package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/openchamber/streamsync/internal/domain/session"
	"github.com/openchamber/streamsync/internal/port/api"
	"github.com/openchamber/streamsync/internal/port/journal"
)

// Sync is the engine surface the handlers need.
type Sync interface {
	ConnStatus() session.ConnStatus
	Sessions() []session.Session
	Messages(sessionID string) []*session.Message
	Status(sessionID string) session.Status
	Statuses() map[string]session.Status
	Todos(sessionID string) []session.Todo
	Permissions(sessionID string) []session.PermissionRequest
	Questions(sessionID string) []session.QuestionRequest
	ActiveSession() string
	SetActiveSession(sessionID string)
	SetTrimmedHead(sessionID, messageID string)
	ScheduleReconnect(hint string)
	RespondPermission(ctx context.Context, sessionID, requestID string, reply api.PermissionReply) error
	RespondQuestion(ctx context.Context, sessionID, requestID string, answer json.RawMessage) error
}

// JournalReader is the optional journal query surface.
type JournalReader interface {
	LoadBySession(ctx context.Context, sessionID string, limit int) ([]journal.Record, error)
}

// Handlers holds dependencies for all state API handlers.
type Handlers struct {
	Sync    Sync
	Journal JournalReader // nil when journaling is disabled
}

// Health reports liveness plus the current connection state.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"connection": h.Sync.ConnStatus(),
	})
}

// GetConnection returns the current connection status.
func (h *Handlers) GetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.ConnStatus())
}

// ListSessions returns all known sessions.
func (h *Handlers) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.Sessions())
}

// ListMessages returns the merged message history for a session.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	sid := urlParam(r, "id")
	writeJSON(w, http.StatusOK, h.Sync.Messages(sid))
}

// GetStatus returns the session's busy/idle/retry status.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	sid := urlParam(r, "id")
	writeJSON(w, http.StatusOK, h.Sync.Status(sid))
}

// ListStatuses returns all known session statuses.
func (h *Handlers) ListStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.Statuses())
}

// GetTodos returns the session's todo list.
func (h *Handlers) GetTodos(w http.ResponseWriter, r *http.Request) {
	sid := urlParam(r, "id")
	writeJSON(w, http.StatusOK, h.Sync.Todos(sid))
}

// ListPrompts returns the open permission and question prompts for a session.
func (h *Handlers) ListPrompts(w http.ResponseWriter, r *http.Request) {
	sid := urlParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": h.Sync.Permissions(sid),
		"questions":   h.Sync.Questions(sid),
	})
}

// GetActive returns the active session id.
func (h *Handlers) GetActive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"sessionID": h.Sync.ActiveSession()})
}

// SetActive selects the active session.
func (h *Handlers) SetActive(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		SessionID string `json:"sessionID"`
	}](w, r)
	if !ok {
		return
	}
	h.Sync.SetActiveSession(body.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// SetTrimmedHead records the eviction watermark for a session.
func (h *Handlers) SetTrimmedHead(w http.ResponseWriter, r *http.Request) {
	sid := urlParam(r, "id")
	body, ok := readJSON[struct {
		MessageID string `json:"messageID"`
	}](w, r)
	if !ok {
		return
	}
	if body.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageID is required")
		return
	}
	h.Sync.SetTrimmedHead(sid, body.MessageID)
	w.WriteHeader(http.StatusNoContent)
}

// Reconnect forces a teardown plus backoff-delayed reconnect.
func (h *Handlers) Reconnect(w http.ResponseWriter, _ *http.Request) {
	h.Sync.ScheduleReconnect("manual")
	w.WriteHeader(http.StatusAccepted)
}

// RespondPermission forwards a permission reply upstream.
func (h *Handlers) RespondPermission(w http.ResponseWriter, r *http.Request) {
	sid, rid := urlParam(r, "id"), urlParam(r, "requestID")
	body, ok := readJSON[struct {
		Response string `json:"response"`
	}](w, r)
	if !ok {
		return
	}
	switch api.PermissionReply(body.Response) {
	case api.PermissionAllow, api.PermissionAllowAlways, api.PermissionDeny:
	default:
		writeError(w, http.StatusBadRequest, "response must be allow, always, or deny")
		return
	}
	if err := h.Sync.RespondPermission(r.Context(), sid, rid, api.PermissionReply(body.Response)); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RespondQuestion forwards a question answer upstream as-is.
func (h *Handlers) RespondQuestion(w http.ResponseWriter, r *http.Request) {
	sid, rid := urlParam(r, "id"), urlParam(r, "requestID")
	answer, err := io.ReadAll(http.MaxBytesReader(w, r.Body, bodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !json.Valid(answer) {
		writeError(w, http.StatusBadRequest, "answer must be valid JSON")
		return
	}
	if err := h.Sync.RespondQuestion(r.Context(), sid, rid, answer); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJournal returns recent journaled events for a session.
func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusNotFound, "journal is not enabled")
		return
	}
	sid := urlParam(r, "id")
	recs, err := h.Journal.LoadBySession(r.Context(), sid, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
