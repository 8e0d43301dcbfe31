// Package session defines the client-side view of agent execution sessions:
// sessions, messages, streamed message parts, and per-session status.
package session

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish markers carried by message updates.
const (
	FinishStop  = "stop"
	FinishAbort = "abort"
)

// Part types. The set is open-ended; unknown types are stored as-is.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartTool      = "tool"
	PartStepStart = "step-start"
	PartFile      = "file"
	PartSubtask   = "subtask"
	PartAgent     = "agent"
)

// Tool part states.
const (
	ToolPending   = "pending"
	ToolRunning   = "running"
	ToolCompleted = "completed"
	ToolError     = "error"
)

// Session is one agent execution session as reported by the upstream service.
type Session struct {
	ID          string `json:"id"`
	Directory   string `json:"directory"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
	ParentID    string `json:"parentID,omitempty"`
	CompactedAt int64  `json:"compactedAt,omitempty"`
}

// TimeRange tracks when a message or part started and, once terminal, ended.
// Times are unix milliseconds as sent by the upstream service.
type TimeRange struct {
	Start     int64 `json:"start,omitempty"`
	End       int64 `json:"end,omitempty"`
	Completed int64 `json:"completed,omitempty"`
}

// ToolState is the type-specific payload of a tool part.
type ToolState struct {
	Status   string          `json:"status,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	Title    string          `json:"title,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Time     *TimeRange      `json:"time,omitempty"`
}

// Part is an atomic, independently-streamable fragment of a message.
// A part is "open" while it streams and terminal once its end time is set.
type Part struct {
	ID        string     `json:"id"`
	MessageID string     `json:"messageID,omitempty"`
	SessionID string     `json:"sessionID,omitempty"`
	Type      string     `json:"type"`
	Text      string     `json:"text,omitempty"`
	Synthetic bool       `json:"synthetic,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	CallID    string     `json:"callID,omitempty"`
	State     *ToolState `json:"state,omitempty"`
	Time      *TimeRange `json:"time,omitempty"`
}

// Open reports whether the part is still streaming.
func (p *Part) Open() bool {
	if p.Time != nil && p.Time.End != 0 {
		return false
	}
	if p.Type == PartTool && p.State != nil {
		return p.State.Status == ToolPending || p.State.Status == ToolRunning
	}
	return p.Time == nil || p.Time.End == 0
}

// Message belongs to exactly one session and carries an ordered part list.
type Message struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionID"`
	Role        string     `json:"role"`
	Agent       string     `json:"agent,omitempty"`
	Model       string     `json:"model,omitempty"`
	Finish      string     `json:"finish,omitempty"`
	Status      string     `json:"status,omitempty"`
	Created     int64      `json:"created,omitempty"`
	CompletedAt int64      `json:"completedAt,omitempty"`
	Time        *TimeRange `json:"time,omitempty"`
	Parts       []*Part    `json:"parts,omitempty"`
}

// Finalized reports whether the message carries any terminal marker:
// a completion timestamp, a completed status, or a stop/abort finish.
func (m *Message) Finalized() bool {
	if m.CompletedAt != 0 {
		return true
	}
	if m.Time != nil && m.Time.Completed != 0 {
		return true
	}
	if m.Status == "completed" {
		return true
	}
	return m.Finish == FinishStop || m.Finish == FinishAbort
}

// TextLen returns the total length of all text-bearing parts. The merge
// engine's shrink guard compares these totals between stored and incoming.
func (m *Message) TextLen() int {
	n := 0
	for _, p := range m.Parts {
		if p.Type == PartText || p.Type == PartReasoning {
			n += len(p.Text)
		}
	}
	return n
}

// Status types for a session.
const (
	StatusIdle  = "idle"
	StatusBusy  = "busy"
	StatusRetry = "retry"
)

// Status is the per-session busy/idle/retry state. ConfirmedAt records when
// idle was last positively confirmed; it suppresses flapping back to busy
// from reordered events.
type Status struct {
	Type        string    `json:"type"`
	Attempt     int       `json:"attempt,omitempty"`
	Message     string    `json:"message,omitempty"`
	Next        int64     `json:"next,omitempty"`
	ConfirmedAt time.Time `json:"confirmedAt,omitempty"`
}

// Working reports whether the session is busy or retrying.
func (s Status) Working() bool {
	return s.Type == StatusBusy || s.Type == StatusRetry
}

// ConnState is the process-wide connection state.
type ConnState string

// Connection states.
const (
	ConnIdle         ConnState = "idle"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnReconnecting ConnState = "reconnecting"
	ConnPaused       ConnState = "paused"
	ConnOffline      ConnState = "offline"
	ConnError        ConnState = "error"
)

// ConnStatus pairs the connection state with an optional human-readable hint.
// It is republished only when the state or hint changes.
type ConnStatus struct {
	State ConnState `json:"state"`
	Hint  string    `json:"hint,omitempty"`
}

// PermissionRequest is an ephemeral prompt keyed by (sessionID, requestID).
type PermissionRequest struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionID"`
	Permission string          `json:"permission"`
	Patterns   []string        `json:"patterns,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Always     bool            `json:"always,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	AskedAt    time.Time       `json:"askedAt"`
}

// QuestionRequest is an ephemeral question prompt from the agent.
type QuestionRequest struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionID"`
	Questions json.RawMessage `json:"questions"`
	AskedAt   time.Time       `json:"askedAt"`
}

// Todo is one entry of a session's task list.
type Todo struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}
