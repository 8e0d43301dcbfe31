package engine

import (
	"errors"
	"testing"

	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
)

func decodeOK(t *testing.T, raw string) event.Any {
	t.Helper()
	ev, err := decodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decodeEvent(%s): %v", raw, err)
	}
	return ev
}

func TestDecodeUnknownTypeIsSkipped(t *testing.T) {
	_, err := decodeEvent([]byte(`{"type":"something.else","properties":{}}`))
	if !errors.Is(err, errSkip) {
		t.Fatalf("expected errSkip, got %v", err)
	}
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	if _, err := decodeEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestDecodeSessionStatusVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		sid  string
		typ  string
	}{
		{
			"nested status object with camelCase id",
			`{"type":"session.status","properties":{"sessionID":"ses_1","status":{"type":"busy"}}}`,
			"ses_1", session.StatusBusy,
		},
		{
			"bare string status with snake_case id",
			`{"type":"openchamber:session-status","properties":{"session_id":"ses_2","status":"idle"}}`,
			"ses_2", session.StatusIdle,
		},
		{
			"lowercase sessionId variant",
			`{"type":"session.status","properties":{"sessionId":"ses_3","status":{"type":"retry","attempt":2,"message":"rate limited"}}}`,
			"ses_3", session.StatusRetry,
		},
		{
			"missing status defaults to idle",
			`{"type":"session.status","properties":{"sessionID":"ses_4"}}`,
			"ses_4", session.StatusIdle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decodeOK(t, tt.raw).(event.SessionStatus)
			if ev.SessionID != tt.sid {
				t.Fatalf("SessionID = %q, want %q", ev.SessionID, tt.sid)
			}
			if ev.Status.Type != tt.typ {
				t.Fatalf("Status.Type = %q, want %q", ev.Status.Type, tt.typ)
			}
		})
	}
}

func TestDecodeSessionStatusRetryFields(t *testing.T) {
	raw := `{"type":"session.status","properties":{"sessionID":"ses_1","status":{"type":"retry","attempt":3,"message":"overloaded","next":1700000000000}}}`
	ev := decodeOK(t, raw).(event.SessionStatus)
	if ev.Status.Attempt != 3 || ev.Status.Message != "overloaded" || ev.Status.Next != 1700000000000 {
		t.Fatalf("retry fields not decoded: %+v", ev.Status)
	}
}

func TestDecodePartUpdatedIDPriority(t *testing.T) {
	// Ids on the part payload win over info and envelope spellings.
	raw := `{"type":"message.part.updated","properties":{
		"sessionID":"ses_env","messageID":"msg_env",
		"info":{"id":"msg_info","sessionID":"ses_info","role":"assistant"},
		"part":{"id":"prt_1","sessionID":"ses_part","messageID":"msg_part","type":"text","text":"hi"}}}`
	ev := decodeOK(t, raw).(event.PartUpdated)
	if ev.SessionID != "ses_part" || ev.MessageID != "msg_part" {
		t.Fatalf("ids = (%q, %q), want part payload ids", ev.SessionID, ev.MessageID)
	}
	if ev.Info == nil || ev.Info.Role != session.RoleAssistant {
		t.Fatalf("info not decoded: %+v", ev.Info)
	}
}

func TestDecodePartUpdatedFallsBackToInfoThenEnvelope(t *testing.T) {
	raw := `{"type":"message.part.updated","properties":{
		"sessionID":"ses_env",
		"info":{"id":"msg_info","role":"assistant"},
		"part":{"id":"prt_1","type":"text","text":"hi"}}}`
	ev := decodeOK(t, raw).(event.PartUpdated)
	if ev.MessageID != "msg_info" {
		t.Fatalf("MessageID = %q, want info id", ev.MessageID)
	}
	if ev.SessionID != "ses_env" {
		t.Fatalf("SessionID = %q, want envelope id", ev.SessionID)
	}
}

func TestDecodePartDelta(t *testing.T) {
	raw := `{"type":"message.part.delta","properties":{
		"sessionID":"ses_1","messageID":"msg_1","partID":"prt_1",
		"field":"text","delta":" world"}}`
	ev := decodeOK(t, raw).(event.PartDelta)
	if ev.PartID != "prt_1" || ev.Field != "text" || ev.Delta != " world" {
		t.Fatalf("delta not decoded: %+v", ev)
	}
}

func TestDecodeMessageUpdatedNested(t *testing.T) {
	raw := `{"type":"message.updated","properties":{
		"info":{"id":"msg_1","sessionID":"ses_1","role":"assistant","time":{"created":100,"completed":200}},
		"parts":[{"id":"prt_1","type":"text","text":"done"}]}}`
	ev := decodeOK(t, raw).(event.MessageUpdated)
	if ev.Info.ID != "msg_1" || ev.Info.SessionID != "ses_1" {
		t.Fatalf("info ids not decoded: %+v", ev.Info)
	}
	if !ev.HasParts || len(ev.Parts) != 1 || ev.Parts[0].Text != "done" {
		t.Fatalf("parts not decoded: %+v", ev.Parts)
	}
	if ev.Info.CompletedAt != 200 {
		t.Fatalf("CompletedAt = %d, want 200", ev.Info.CompletedAt)
	}
}

func TestDecodeMessageUpdatedFlattened(t *testing.T) {
	raw := `{"type":"message.updated","properties":{
		"id":"msg_1","sessionID":"ses_1","role":"user","created":100}}`
	ev := decodeOK(t, raw).(event.MessageUpdated)
	if ev.Info.ID != "msg_1" || ev.Info.Role != session.RoleUser {
		t.Fatalf("flattened info not decoded: %+v", ev.Info)
	}
	if ev.HasParts {
		t.Fatal("HasParts should be false when parts are absent")
	}
}

func TestDecodeMessageUpdatedTopLevelOverrides(t *testing.T) {
	raw := `{"type":"message.updated","properties":{
		"info":{"id":"msg_1","sessionID":"ses_1","role":"assistant","status":"running"},
		"finish":"stop","status":"completed","time":{"completed":300}}}`
	ev := decodeOK(t, raw).(event.MessageUpdated)
	if ev.Info.Finish != session.FinishStop {
		t.Fatalf("Finish = %q, want stop", ev.Info.Finish)
	}
	if ev.Info.Status != "completed" {
		t.Fatalf("Status = %q, want completed", ev.Info.Status)
	}
	if ev.Info.CompletedAt != 300 {
		t.Fatalf("CompletedAt = %d, want 300", ev.Info.CompletedAt)
	}
}

func TestDecodeSessionPayloadWrappers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"info wrapper", `{"type":"session.created","properties":{"info":{"id":"ses_1","title":"t","directory":"/w"}}}`},
		{"session wrapper", `{"type":"session.updated","properties":{"session":{"id":"ses_1","title":"t","directory":"/w"}}}`},
		{"bare object", `{"type":"session.updated","properties":{"id":"ses_1","title":"t","directory":"/w"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := decodeOK(t, tt.raw).(event.SessionUpserted)
			if ev.Session.ID != "ses_1" || ev.Session.Title != "t" || ev.Session.Directory != "/w" {
				t.Fatalf("session not decoded: %+v", ev.Session)
			}
		})
	}
}

func TestDecodeNumericFlexID(t *testing.T) {
	raw := `{"type":"session.deleted","properties":{"sessionID":12345}}`
	ev := decodeOK(t, raw).(event.SessionDeleted)
	if ev.SessionID != "12345" {
		t.Fatalf("SessionID = %q, want numeric id as string", ev.SessionID)
	}
}

func TestDecodeInstanceDisposedAliases(t *testing.T) {
	for _, typ := range []string{"server.instance.disposed", "global.disposed"} {
		ev := decodeOK(t, `{"type":"`+typ+`","properties":{}}`)
		if _, ok := ev.(event.InstanceDisposed); !ok {
			t.Fatalf("type %q decoded to %T, want InstanceDisposed", typ, ev)
		}
	}
}

func TestDecodePermissionAsked(t *testing.T) {
	raw := `{"type":"permission.asked","properties":{
		"requestID":"req_1","sessionID":"ses_1","permission":"edit file",
		"patterns":["*.go"],"tool":"write","always":true}}`
	ev := decodeOK(t, raw).(event.PermissionAsked)
	r := ev.Request
	if r.ID != "req_1" || r.SessionID != "ses_1" || r.Tool != "write" || !r.Always {
		t.Fatalf("request not decoded: %+v", r)
	}
}

func TestDecodePermissionAskedIDFallback(t *testing.T) {
	raw := `{"type":"permission.asked","properties":{"id":"req_9","sessionID":"ses_1","permission":"x"}}`
	ev := decodeOK(t, raw).(event.PermissionAsked)
	if ev.Request.ID != "req_9" {
		t.Fatalf("ID = %q, want fallback to bare id", ev.Request.ID)
	}
}

func TestDecodeQuestionClosedVariants(t *testing.T) {
	replied := decodeOK(t, `{"type":"question.replied","properties":{"sessionID":"s","requestID":"q"}}`).(event.QuestionClosed)
	if replied.Rejected {
		t.Fatal("replied should not be rejected")
	}
	rejected := decodeOK(t, `{"type":"question.rejected","properties":{"sessionID":"s","requestID":"q"}}`).(event.QuestionClosed)
	if !rejected.Rejected {
		t.Fatal("rejected should be rejected")
	}
}

func TestDecodeNotification(t *testing.T) {
	raw := `{"type":"openchamber:notification","properties":{
		"title":"Done","body":"finished","requireHidden":true,"desktopStdoutActive":false}}`
	ev := decodeOK(t, raw).(event.Notification)
	if ev.Title != "Done" || !ev.RequireHidden || ev.DesktopStdoutActive {
		t.Fatalf("notification not decoded: %+v", ev)
	}
}

func TestDecodeTodoUpdated(t *testing.T) {
	raw := `{"type":"todo.updated","properties":{"sessionID":"ses_1","todos":[{"content":"write tests","status":"pending"}]}}`
	ev := decodeOK(t, raw).(event.TodoUpdated)
	if ev.SessionID != "ses_1" || len(ev.Todos) != 1 || ev.Todos[0].Content != "write tests" {
		t.Fatalf("todos not decoded: %+v", ev)
	}
}
