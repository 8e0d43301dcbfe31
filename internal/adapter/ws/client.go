// Package ws implements the upstream event subscription over WebSocket.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/openchamber/streamsync/internal/port/stream"
)

const (
	dialTimeout = 10 * time.Second
	readLimit   = 16 << 20 // parts can carry whole file contents
)

// Source subscribes to the upstream event stream. One Source serves many
// sequential subscriptions; each Subscribe call owns one connection.
type Source struct {
	eventURL string
	clientID string
	probe    func(ctx context.Context) bool
	log      *slog.Logger
}

// NewSource builds a Source for the given base URL (http(s) or ws(s)
// scheme, both accepted). probe is consulted by Healthy and may be nil.
func NewSource(baseURL string, probe func(ctx context.Context) bool, log *slog.Logger) (*Source, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/event"

	clientID := uuid.NewString()
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()

	return &Source{
		eventURL: u.String(),
		clientID: clientID,
		probe:    probe,
		log:      log,
	}, nil
}

// ClientID returns the stable id this source identifies itself with.
func (s *Source) ClientID() string { return s.clientID }

// Subscribe dials the event endpoint and pumps frames into the handler until
// the returned stop function is called or the connection fails.
func (s *Source) Subscribe(ctx context.Context, h stream.Handler) (func(), error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.eventURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, stop := context.WithCancel(ctx)

	s.log.Debug("event stream connected", "client_id", s.clientID)
	if h.OnOpen != nil {
		h.OnOpen()
	}

	go func() {
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				// A stop() cancellation is a clean shutdown, not an error.
				if readCtx.Err() == nil && h.OnError != nil {
					h.OnError(err)
				}
				return
			}
			if h.OnEvent != nil {
				h.OnEvent(data)
			}
		}
	}()

	return stop, nil
}

// Healthy consults the out-of-band probe when one is configured.
func (s *Source) Healthy(ctx context.Context) bool {
	if s.probe == nil {
		return false
	}
	return s.probe(ctx)
}
