package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openchamber/streamsync/internal/port/api"
	"github.com/openchamber/streamsync/internal/resilience"
)

func TestListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/session" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"ses_1","title":"one","directory":"/w"},{"id":"ses_2","title":"two"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	sessions, err := c.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "ses_1" || sessions[0].Directory != "/w" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestListMessagesNestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/ses_1/message" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "200" {
			t.Errorf("limit = %q, want 200", r.URL.Query().Get("limit"))
		}
		_, _ = w.Write([]byte(`[
			{"info":{"id":"msg_1","role":"user"},"parts":[{"id":"prt_1","type":"text","text":"hi"}]},
			{"info":{"id":"msg_2","sessionID":"ses_1","role":"assistant"},"parts":[]}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	msgs, err := c.ListMessages(context.Background(), "ses_1", 200)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].ID != "msg_1" || msgs[0].SessionID != "ses_1" {
		t.Fatalf("msg[0] = %+v, session id must be backfilled", msgs[0])
	}
	if len(msgs[0].Parts) != 1 || msgs[0].Parts[0].Text != "hi" {
		t.Fatalf("parts = %+v", msgs[0].Parts)
	}
}

func TestListMessagesFlattenedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"msg_1","sessionID":"ses_1","role":"assistant","finish":"stop",
			 "parts":[{"id":"prt_1","type":"text","text":"done"}]}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	msgs, err := c.ListMessages(context.Background(), "ses_1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg_1" || msgs[0].Finish != "stop" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if len(msgs[0].Parts) != 1 || msgs[0].Parts[0].Text != "done" {
		t.Fatalf("parts = %+v", msgs[0].Parts)
	}
}

func TestRespondPermission(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.RespondPermission(context.Background(), "ses_1", "req_1", api.PermissionAllowAlways); err != nil {
		t.Fatalf("RespondPermission: %v", err)
	}
	if gotPath != "/session/ses_1/permissions/req_1" {
		t.Fatalf("path = %q", gotPath)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(gotBody), &body); err != nil || body["response"] != "always" {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestRespondQuestionSendsRawAnswer(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	answer := json.RawMessage(`{"answers":["yes"]}`)
	if err := c.RespondQuestion(context.Background(), "ses_1", "q_1", answer); err != nil {
		t.Fatalf("RespondQuestion: %v", err)
	}
	if gotBody != string(answer) {
		t.Fatalf("body = %q, want the raw answer payload", gotBody)
	}
}

func TestUpstreamErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if _, err := c.ListMessages(context.Background(), "ses_x", 0); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if !c.Health(context.Background()) {
		t.Fatal("want healthy")
	}
	healthy = false
	if c.Health(context.Background()) {
		t.Fatal("want unhealthy")
	}
}

func TestBreakerFailsFast(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.ListSessions(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Circuit is open now; further calls must not reach the upstream.
	if _, err := c.ListSessions(context.Background()); err != resilience.ErrCircuitOpen {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if hits != 2 {
		t.Fatalf("upstream hits = %d, open breaker must fail fast", hits)
	}
}
