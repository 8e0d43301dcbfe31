package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
)

// errSkip marks envelopes the engine ignores on purpose (unknown types).
var errSkip = errors.New("skip")

// wireSession is a session payload under any of its historical field names.
type wireSession struct {
	event.IDs
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	ParentID string `json:"parentID"`
	Time     *struct {
		Compacted int64 `json:"compacted"`
	} `json:"time"`
}

func (w wireSession) toSession() session.Session {
	s := session.Session{
		ID:        string(w.ID),
		Directory: w.Dir(),
		Title:     w.Title,
		Summary:   w.Summary,
		ParentID:  w.ParentID,
	}
	if w.Time != nil {
		s.CompactedAt = w.Time.Compacted
	}
	return s
}

// wireMessage is a message payload tolerating flattened and nested shapes.
type wireMessage struct {
	event.IDs
	Role    string `json:"role"`
	Agent   string `json:"agent"`
	Model   string `json:"model"`
	Finish  string `json:"finish"`
	Status  string `json:"status"`
	Created int64  `json:"created"`
	Time    *struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed"`
	} `json:"time"`
	Parts []*session.Part `json:"parts"`
}

func (w wireMessage) toMessage() session.Message {
	m := session.Message{
		ID:        string(w.ID),
		SessionID: w.Session(),
		Role:      w.Role,
		Agent:     w.Agent,
		Model:     w.Model,
		Finish:    w.Finish,
		Status:    w.Status,
		Created:   w.Created,
	}
	if w.Time != nil {
		if w.Time.Created != 0 && m.Created == 0 {
			m.Created = w.Time.Created
		}
		m.CompletedAt = w.Time.Completed
		m.Time = &session.TimeRange{Start: w.Time.Created, Completed: w.Time.Completed}
	}
	return m
}

// decodeEvent turns a raw envelope into exactly one canonical event record.
// It returns errSkip for types the engine does not interpret; malformed
// payloads return a decode error and are dropped by the caller.
func decodeEvent(raw []byte) (event.Any, error) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	props := env.Properties
	if len(props) == 0 {
		props = json.RawMessage("{}")
	}

	switch env.Type {
	case event.TypeServerConnected:
		return event.ServerConnected{}, nil

	case event.TypeGlobalDisposed, event.TypeInstanceDisposed:
		return event.InstanceDisposed{}, nil

	case event.TypeMCPToolsChanged:
		var p event.IDs
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("mcp.tools.changed: %w", err)
		}
		return event.MCPToolsChanged{Directory: p.Dir()}, nil

	case event.TypeSessionStatus, event.TypeChamberStatus:
		return decodeSessionStatus(props)

	case event.TypePartUpdated:
		return decodePartUpdated(props)

	case event.TypePartDelta:
		var p struct {
			event.IDs
			Field string `json:"field"`
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("part.delta: %w", err)
		}
		return event.PartDelta{
			SessionID: p.Session(),
			MessageID: p.Message(),
			PartID:    p.Part(),
			Field:     p.Field,
			Delta:     p.Delta,
		}, nil

	case event.TypeMessageUpdated:
		return decodeMessageUpdated(props)

	case event.TypeSessionCreated, event.TypeSessionUpdated:
		s, err := decodeSessionPayload(props)
		if err != nil {
			return nil, err
		}
		return event.SessionUpserted{Created: env.Type == event.TypeSessionCreated, Session: s}, nil

	case event.TypeSessionDeleted:
		var p event.IDs
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("session.deleted: %w", err)
		}
		id := p.Session()
		if id == "" {
			id = string(p.ID)
		}
		return event.SessionDeleted{SessionID: id}, nil

	case event.TypeSessionAbort:
		var p event.IDs
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("session.abort: %w", err)
		}
		return event.SessionAbort{SessionID: p.Session(), MessageID: p.Message()}, nil

	case event.TypePermissionAsked:
		var p struct {
			event.IDs
			Permission string          `json:"permission"`
			Patterns   []string        `json:"patterns"`
			Metadata   json.RawMessage `json:"metadata"`
			Always     bool            `json:"always"`
			Tool       string          `json:"tool"`
		}
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("permission.asked: %w", err)
		}
		return event.PermissionAsked{Request: session.PermissionRequest{
			ID:         p.Request(),
			SessionID:  p.Session(),
			Permission: p.Permission,
			Patterns:   p.Patterns,
			Metadata:   p.Metadata,
			Always:     p.Always,
			Tool:       p.Tool,
		}}, nil

	case event.TypePermissionReplied:
		var p event.IDs
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("permission.replied: %w", err)
		}
		return event.PermissionReplied{SessionID: p.Session(), RequestID: p.Request()}, nil

	case event.TypeQuestionAsked:
		var p struct {
			event.IDs
			Questions json.RawMessage `json:"questions"`
		}
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("question.asked: %w", err)
		}
		return event.QuestionAsked{Request: session.QuestionRequest{
			ID:        p.Request(),
			SessionID: p.Session(),
			Questions: p.Questions,
		}}, nil

	case event.TypeQuestionReplied, event.TypeQuestionRejected:
		var p event.IDs
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("question close: %w", err)
		}
		return event.QuestionClosed{
			Rejected:  env.Type == event.TypeQuestionRejected,
			SessionID: p.Session(),
			RequestID: p.Request(),
		}, nil

	case event.TypeNotification:
		var p struct {
			Title               string `json:"title"`
			Body                string `json:"body"`
			Tag                 string `json:"tag"`
			RequireHidden       bool   `json:"requireHidden"`
			DesktopStdoutActive bool   `json:"desktopStdoutActive"`
		}
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("notification: %w", err)
		}
		return event.Notification(p), nil

	case event.TypeTodoUpdated:
		var p struct {
			event.IDs
			Todos []session.Todo `json:"todos"`
		}
		if err := json.Unmarshal(props, &p); err != nil {
			return nil, fmt.Errorf("todo.updated: %w", err)
		}
		return event.TodoUpdated{SessionID: p.Session(), Todos: p.Todos}, nil
	}

	return nil, errSkip
}

// decodeSessionStatus handles both session.status (nested status object) and
// openchamber:session-status (status as object or bare string).
func decodeSessionStatus(props json.RawMessage) (event.Any, error) {
	var p struct {
		event.IDs
		Status         json.RawMessage `json:"status"`
		NeedsAttention bool            `json:"needsAttention"`
		Timestamp      int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(props, &p); err != nil {
		return nil, fmt.Errorf("session.status: %w", err)
	}

	st := session.Status{Type: session.StatusIdle}
	if len(p.Status) > 0 {
		if p.Status[0] == '"' {
			var t string
			if err := json.Unmarshal(p.Status, &t); err != nil {
				return nil, fmt.Errorf("session.status type: %w", err)
			}
			st.Type = t
		} else {
			var obj struct {
				Type    string `json:"type"`
				Attempt int    `json:"attempt"`
				Message string `json:"message"`
				Next    int64  `json:"next"`
			}
			if err := json.Unmarshal(p.Status, &obj); err != nil {
				return nil, fmt.Errorf("session.status object: %w", err)
			}
			st.Type = obj.Type
			st.Attempt = obj.Attempt
			st.Message = obj.Message
			st.Next = obj.Next
		}
	}

	return event.SessionStatus{
		SessionID:      p.Session(),
		Status:         st,
		NeedsAttention: p.NeedsAttention,
		Timestamp:      p.Timestamp,
	}, nil
}

// decodePartUpdated resolves (sessionID, messageID) from the part payload,
// the message-info payload, or the event envelope, in that priority order.
func decodePartUpdated(props json.RawMessage) (event.Any, error) {
	var p struct {
		event.IDs
		Part session.Part    `json:"part"`
		Info json.RawMessage `json:"info"`
	}
	if err := json.Unmarshal(props, &p); err != nil {
		return nil, fmt.Errorf("part.updated: %w", err)
	}

	ev := event.PartUpdated{Part: p.Part}

	if len(p.Info) > 0 {
		var w wireMessage
		if err := json.Unmarshal(p.Info, &w); err == nil && string(w.ID) != "" {
			info := w.toMessage()
			info.Parts = nil
			ev.Info = &info
		}
	}

	ev.SessionID = p.Part.SessionID
	ev.MessageID = p.Part.MessageID
	if ev.SessionID == "" && ev.Info != nil {
		ev.SessionID = ev.Info.SessionID
	}
	if ev.MessageID == "" && ev.Info != nil {
		ev.MessageID = ev.Info.ID
	}
	if ev.SessionID == "" {
		ev.SessionID = p.Session()
	}
	if ev.MessageID == "" {
		ev.MessageID = p.Message()
	}

	return ev, nil
}

// decodeMessageUpdated handles both the nested {info, parts} shape and the
// legacy flattened shape where the properties bag is the message itself.
func decodeMessageUpdated(props json.RawMessage) (event.Any, error) {
	var p struct {
		Info   json.RawMessage `json:"info"`
		Parts  json.RawMessage `json:"parts"`
		Finish string          `json:"finish"`
		Status string          `json:"status"`
		Time   *struct {
			Completed int64 `json:"completed"`
		} `json:"time"`
	}
	if err := json.Unmarshal(props, &p); err != nil {
		return nil, fmt.Errorf("message.updated: %w", err)
	}

	var w wireMessage
	src := p.Info
	if len(src) == 0 {
		src = props
	}
	if err := json.Unmarshal(src, &w); err != nil {
		return nil, fmt.Errorf("message.updated info: %w", err)
	}

	ev := event.MessageUpdated{Info: w.toMessage()}

	// Top-level finish/status/time override whatever the info carried.
	if p.Finish != "" {
		ev.Info.Finish = p.Finish
	}
	if p.Status != "" {
		ev.Info.Status = p.Status
	}
	if p.Time != nil && p.Time.Completed != 0 {
		ev.Info.CompletedAt = p.Time.Completed
	}

	parts := w.Parts
	hasParts := w.Parts != nil
	if len(p.Parts) > 0 {
		var list []*session.Part
		if err := json.Unmarshal(p.Parts, &list); err != nil {
			return nil, fmt.Errorf("message.updated parts: %w", err)
		}
		parts = list
		hasParts = true
	}
	ev.Parts = parts
	ev.HasParts = hasParts

	return ev, nil
}

// decodeSessionPayload accepts {info|session|sessionInfo} wrappers or a bare
// session object.
func decodeSessionPayload(props json.RawMessage) (session.Session, error) {
	var wrap struct {
		Info        json.RawMessage `json:"info"`
		Session     json.RawMessage `json:"session"`
		SessionInfo json.RawMessage `json:"sessionInfo"`
	}
	if err := json.Unmarshal(props, &wrap); err != nil {
		return session.Session{}, fmt.Errorf("session payload: %w", err)
	}
	src := wrap.Info
	if len(src) == 0 {
		src = wrap.Session
	}
	if len(src) == 0 {
		src = wrap.SessionInfo
	}
	if len(src) == 0 {
		src = props
	}
	var w wireSession
	if err := json.Unmarshal(src, &w); err != nil {
		return session.Session{}, fmt.Errorf("session payload: %w", err)
	}
	return w.toSession(), nil
}
