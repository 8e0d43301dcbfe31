package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openchamber/streamsync/internal/adapter/otel"
	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
	"github.com/openchamber/streamsync/internal/port/notifier"
)

// notifySeenCap bounds the dedupe set; oldest entries are evicted over it.
const notifySeenCap = 256

// notifyBridge decides, from status and host visibility, whether an event
// surfaces a system notification, and dedupes by event identity.
type notifyBridge struct {
	notifiers []notifier.Notifier
	log       *slog.Logger
	metrics   *otel.Metrics

	visible func() bool
	active  func() string
	title   func(sid string) string

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func newNotifyBridge(notifiers []notifier.Notifier, log *slog.Logger, metrics *otel.Metrics, now func() time.Time) *notifyBridge {
	return &notifyBridge{
		notifiers: notifiers,
		log:       log,
		metrics:   metrics,
		now:       now,
		seen:      make(map[string]time.Time),
	}
}

// firstSeen records the key and reports whether it was new. Over capacity,
// the oldest entries are evicted.
func (b *notifyBridge) firstSeen(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[key]; ok {
		return false
	}
	b.seen[key] = b.now()
	for len(b.seen) > notifySeenCap {
		oldestKey := ""
		var oldest time.Time
		for k, t := range b.seen {
			if oldestKey == "" || t.Before(oldest) {
				oldestKey, oldest = k, t
			}
		}
		delete(b.seen, oldestKey)
	}
	return true
}

// upstream handles an explicit notification request from the service.
func (b *notifyBridge) upstream(ev event.Notification) {
	if ev.RequireHidden && b.visible() {
		return
	}
	if ev.DesktopStdoutActive {
		// Another surface is already presenting this to the user.
		return
	}
	tag := ev.Tag
	if tag == "" {
		tag = uuid.NewString()
	}
	if !b.firstSeen("upstream:" + tag) {
		return
	}
	b.send(notifier.Notification{
		Title:  ev.Title,
		Body:   ev.Body,
		Tag:    tag,
		Level:  "info",
		Source: "upstream",
	})
}

// sessionSettled surfaces a completion notification when the user is not
// already looking at the session.
func (b *notifyBridge) sessionSettled(sid string) {
	if b.visible() && b.active() == sid {
		return
	}
	b.send(notifier.Notification{
		Title:     "Agent finished",
		Body:      b.title(sid),
		Tag:       "session-" + sid,
		Level:     "success",
		SessionID: sid,
		Source:    "agent.completed",
	})
}

// sessionRetry surfaces an error notification for a failing session.
func (b *notifyBridge) sessionRetry(sid string, st session.Status) {
	if st.Message == "" {
		return
	}
	if !b.firstSeen(fmt.Sprintf("retry:%s:%d", sid, st.Attempt)) {
		return
	}
	b.send(notifier.Notification{
		Title:     "Agent retrying",
		Body:      st.Message,
		Tag:       "retry-" + sid,
		Level:     "warning",
		SessionID: sid,
		Source:    "agent.error",
	})
}

// permissionAsked surfaces a prompt that needs the user's attention.
func (b *notifyBridge) permissionAsked(req session.PermissionRequest) {
	if !b.firstSeen("perm:" + req.SessionID + ":" + req.ID) {
		return
	}
	body := req.Permission
	if req.Tool != "" {
		body = req.Tool + ": " + body
	}
	b.send(notifier.Notification{
		Title:     "Permission required",
		Body:      body,
		Tag:       "permission-" + req.ID,
		Level:     "warning",
		SessionID: req.SessionID,
		Source:    "permission.asked",
	})
}

// questionAsked surfaces an agent question.
func (b *notifyBridge) questionAsked(req session.QuestionRequest) {
	if !b.firstSeen("question:" + req.SessionID + ":" + req.ID) {
		return
	}
	b.send(notifier.Notification{
		Title:     "Agent has a question",
		Body:      b.title(req.SessionID),
		Tag:       "question-" + req.ID,
		Level:     "info",
		SessionID: req.SessionID,
		Source:    "question.asked",
	})
}

// send delivers to all notifiers. Failures are logged and never interrupt
// delivery to the remaining notifiers.
func (b *notifyBridge) send(n notifier.Notification) {
	b.metrics.NotificationSent(n.Source)
	for _, provider := range b.notifiers {
		if err := provider.Send(context.Background(), n); err != nil {
			b.log.Warn("notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			continue
		}
		b.log.Debug("notification sent", "provider", provider.Name(), "title", n.Title)
	}
}
