// Package httpapi provides the HTTP client for the upstream service's REST
// API: session and message history fetches plus prompt replies.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openchamber/streamsync/internal/domain/session"
	"github.com/openchamber/streamsync/internal/port/api"
	"github.com/openchamber/streamsync/internal/resilience"
)

// Client talks to the upstream REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// wireMessage is one entry of the message history response; the API returns
// either {info, parts} pairs or flattened messages with inline parts.
type wireMessage struct {
	Info  *session.Message `json:"info"`
	Parts []*session.Part  `json:"parts"`
	session.Message
}

func (w wireMessage) toMessage() *session.Message {
	m := w.Message
	if w.Info != nil {
		m = *w.Info
	}
	if w.Parts != nil {
		m.Parts = w.Parts
	}
	return &m
}

// ListSessions returns all sessions known upstream.
func (c *Client) ListSessions(ctx context.Context) ([]session.Session, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/session", nil)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []session.Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return out, nil
}

// ListMessages returns up to limit most recent messages for a session, with
// their parts, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID string, limit int) ([]*session.Message, error) {
	path := "/session/" + url.PathEscape(sessionID) + "/message"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", sessionID, err)
	}

	var wire []wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal messages %s: %w", sessionID, err)
	}
	out := make([]*session.Message, 0, len(wire))
	for _, w := range wire {
		m := w.toMessage()
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		out = append(out, m)
	}
	return out, nil
}

// RespondPermission answers a pending permission prompt.
func (c *Client) RespondPermission(ctx context.Context, sessionID, requestID string, reply api.PermissionReply) error {
	body, err := json.Marshal(map[string]string{"response": string(reply)})
	if err != nil {
		return fmt.Errorf("marshal permission reply: %w", err)
	}
	path := "/session/" + url.PathEscape(sessionID) + "/permissions/" + url.PathEscape(requestID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("respond permission %s: %w", requestID, err)
	}
	return nil
}

// RespondQuestion answers a pending question prompt with the raw answer
// payload chosen by the caller.
func (c *Client) RespondQuestion(ctx context.Context, sessionID, requestID string, answer json.RawMessage) error {
	path := "/session/" + url.PathEscape(sessionID) + "/question/" + url.PathEscape(requestID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, answer); err != nil {
		return fmt.Errorf("respond question %s: %w", requestID, err)
	}
	return nil
}

// Health reports whether the upstream API answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("upstream API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
