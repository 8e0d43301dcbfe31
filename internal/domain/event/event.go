// Package event defines the canonical decoded event records produced by the
// stream decoder. The upstream service has shipped several field-naming
// variants over time (sessionID / sessionId / session_id / id); everything
// here is normalized to one shape before any business logic runs.
package event

import (
	"bytes"
	"encoding/json"

	"github.com/openchamber/streamsync/internal/domain/session"
)

// Type identifies the kind of inbound event.
type Type string

// Inbound event types.
const (
	TypeServerConnected   Type = "server.connected"
	TypeGlobalDisposed    Type = "global.disposed"
	TypeInstanceDisposed  Type = "server.instance.disposed"
	TypeMCPToolsChanged   Type = "mcp.tools.changed"
	TypeSessionStatus     Type = "session.status"
	TypeChamberStatus     Type = "openchamber:session-status"
	TypePartUpdated       Type = "message.part.updated"
	TypePartDelta         Type = "message.part.delta"
	TypeMessageUpdated    Type = "message.updated"
	TypeSessionCreated    Type = "session.created"
	TypeSessionUpdated    Type = "session.updated"
	TypeSessionDeleted    Type = "session.deleted"
	TypeSessionAbort      Type = "session.abort"
	TypePermissionAsked   Type = "permission.asked"
	TypePermissionReplied Type = "permission.replied"
	TypeQuestionAsked     Type = "question.asked"
	TypeQuestionReplied   Type = "question.replied"
	TypeQuestionRejected  Type = "question.rejected"
	TypeNotification      Type = "openchamber:notification"
	TypeTodoUpdated       Type = "todo.updated"
)

// Envelope is the raw wire shape of every event.
type Envelope struct {
	Type       Type            `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// Any is implemented by every canonical event record.
type Any interface {
	EventType() Type
}

// FlexID unmarshals a string id reachable under historical key variants.
// It decodes from either a JSON string or a number (legacy numeric ids).
type FlexID string

// UnmarshalJSON accepts "abc", 123, or null.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// IDs carries every historical spelling of the session/message/request
// identifiers. First non-empty spelling wins, in declaration order.
type IDs struct {
	SessionID  FlexID `json:"sessionID"`
	SessionId  FlexID `json:"sessionId"`
	SessionSn  FlexID `json:"session_id"`
	MessageID  FlexID `json:"messageID"`
	MessageId  FlexID `json:"messageId"`
	MessageSn  FlexID `json:"message_id"`
	ID         FlexID `json:"id"`
	RequestID  FlexID `json:"requestID"`
	RequestId  FlexID `json:"requestId"`
	RequestSn  FlexID `json:"request_id"`
	PartID     FlexID `json:"partID"`
	PartId     FlexID `json:"partId"`
	PartSnake  FlexID `json:"part_id"`
	Directory  FlexID `json:"directory"`
	DirectoryA FlexID `json:"dir"`
}

func first(vals ...FlexID) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// Session returns the first non-empty session id spelling.
func (i IDs) Session() string { return first(i.SessionID, i.SessionId, i.SessionSn) }

// Message returns the first non-empty message id spelling.
func (i IDs) Message() string { return first(i.MessageID, i.MessageId, i.MessageSn) }

// Request returns the first non-empty request id spelling, falling back to "id".
func (i IDs) Request() string { return first(i.RequestID, i.RequestId, i.RequestSn, i.ID) }

// Part returns the first non-empty part id spelling.
func (i IDs) Part() string { return first(i.PartID, i.PartId, i.PartSnake) }

// Dir returns the first non-empty directory spelling.
func (i IDs) Dir() string { return first(i.Directory, i.DirectoryA) }

// ServerConnected signals a (re)started upstream instance.
type ServerConnected struct{}

// EventType implements Any.
func (ServerConnected) EventType() Type { return TypeServerConnected }

// InstanceDisposed signals that the upstream instance went away; all local
// state for it must be rebuilt on the next connect.
type InstanceDisposed struct{}

// EventType implements Any.
func (InstanceDisposed) EventType() Type { return TypeInstanceDisposed }

// MCPToolsChanged reports that the tool set for a working directory changed.
type MCPToolsChanged struct {
	Directory string
}

// EventType implements Any.
func (MCPToolsChanged) EventType() Type { return TypeMCPToolsChanged }

// SessionStatus is the explicit per-session status report.
type SessionStatus struct {
	SessionID      string
	Status         session.Status
	NeedsAttention bool
	Timestamp      int64
}

// EventType implements Any.
func (SessionStatus) EventType() Type { return TypeSessionStatus }

// PartUpdated is a full part replace.
type PartUpdated struct {
	SessionID string // resolved: part payload, then info payload, then envelope
	MessageID string
	Part      session.Part
	Info      *session.Message
}

// EventType implements Any.
func (PartUpdated) EventType() Type { return TypePartUpdated }

// PartDelta carries only the incremental suffix to append to one field of an
// already-materialized part.
type PartDelta struct {
	SessionID string
	MessageID string
	PartID    string
	Field     string
	Delta     string
}

// EventType implements Any.
func (PartDelta) EventType() Type { return TypePartDelta }

// MessageUpdated is a message-level update, optionally carrying parts.
type MessageUpdated struct {
	Info     session.Message
	Parts    []*session.Part
	HasParts bool // distinguishes "server omitted parts" from "zero parts"
}

// EventType implements Any.
func (MessageUpdated) EventType() Type { return TypeMessageUpdated }

// SessionUpserted is session.created or session.updated.
type SessionUpserted struct {
	Created bool
	Session session.Session
}

// EventType implements Any.
func (e SessionUpserted) EventType() Type {
	if e.Created {
		return TypeSessionCreated
	}
	return TypeSessionUpdated
}

// SessionDeleted removes a session.
type SessionDeleted struct {
	SessionID string
}

// EventType implements Any.
func (SessionDeleted) EventType() Type { return TypeSessionDeleted }

// SessionAbort reports a user-initiated abort of an in-flight message.
type SessionAbort struct {
	SessionID string
	MessageID string
}

// EventType implements Any.
func (SessionAbort) EventType() Type { return TypeSessionAbort }

// PermissionAsked opens an ephemeral permission prompt.
type PermissionAsked struct {
	Request session.PermissionRequest
}

// EventType implements Any.
func (PermissionAsked) EventType() Type { return TypePermissionAsked }

// PermissionReplied closes a permission prompt.
type PermissionReplied struct {
	SessionID string
	RequestID string
}

// EventType implements Any.
func (PermissionReplied) EventType() Type { return TypePermissionReplied }

// QuestionAsked opens an ephemeral question prompt.
type QuestionAsked struct {
	Request session.QuestionRequest
}

// EventType implements Any.
func (QuestionAsked) EventType() Type { return TypeQuestionAsked }

// QuestionClosed covers question.replied and question.rejected.
type QuestionClosed struct {
	Rejected  bool
	SessionID string
	RequestID string
}

// EventType implements Any.
func (e QuestionClosed) EventType() Type {
	if e.Rejected {
		return TypeQuestionRejected
	}
	return TypeQuestionReplied
}

// Notification is an upstream request to surface a system notification.
type Notification struct {
	Title               string
	Body                string
	Tag                 string
	RequireHidden       bool
	DesktopStdoutActive bool
}

// EventType implements Any.
func (Notification) EventType() Type { return TypeNotification }

// TodoUpdated replaces a session's todo list.
type TodoUpdated struct {
	SessionID string
	Todos     []session.Todo
}

// EventType implements Any.
func (TodoUpdated) EventType() Type { return TypeTodoUpdated }
