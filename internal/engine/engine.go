// Package engine implements the client-side synchronization engine: it owns
// the upstream event subscription, merges stream events into the local
// store, tracks per-session activity status, and repairs divergence with
// debounced full resyncs.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openchamber/streamsync/internal/adapter/otel"
	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
	"github.com/openchamber/streamsync/internal/port/api"
	"github.com/openchamber/streamsync/internal/port/hostsignal"
	"github.com/openchamber/streamsync/internal/port/journal"
	"github.com/openchamber/streamsync/internal/port/notifier"
	"github.com/openchamber/streamsync/internal/port/stream"
	"github.com/openchamber/streamsync/internal/store"
)

// agentSelection is the effective agent+model inferred from user messages.
type agentSelection struct {
	Agent   string
	Model   string
	Created int64
	MsgID   string
}

// Engine is the synchronization engine. All state transitions are serialized
// under one mutex so every event is applied atomically; no partially-merged
// state is ever observable.
type Engine struct {
	cfg     Tunables
	log     *slog.Logger
	store   *store.Store
	src     stream.Source
	api     api.Client
	host    hostsignal.Source
	journal journal.Store
	metrics *otel.Metrics
	notify  *notifyBridge
	resync  *resyncer
	now     func() time.Time

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	conn     session.ConnStatus
	connSubs []func(session.ConnStatus)

	stopStream     func()
	connGen        uint64
	attempt        int
	reconnectTimer *time.Timer
	pendingResume  bool
	lastEventAt    time.Time

	sess      map[string]*sessState
	selection map[string]agentSelection
	active    string
	perms     map[string]map[string]session.PermissionRequest
	questions map[string]map[string]session.QuestionRequest
}

// New assembles an engine around the given ports. The journal store may be
// nil to disable event journaling.
func New(cfg Tunables, log *slog.Logger, st *store.Store, src stream.Source, client api.Client, host hostsignal.Source, jr journal.Store, notifiers []notifier.Notifier, metrics *otel.Metrics) *Engine {
	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     st,
		src:       src,
		api:       client,
		host:      host,
		journal:   jr,
		metrics:   metrics,
		now:       time.Now,
		conn:      session.ConnStatus{State: session.ConnIdle},
		sess:      make(map[string]*sessState),
		selection: make(map[string]agentSelection),
		perms:     make(map[string]map[string]session.PermissionRequest),
		questions: make(map[string]map[string]session.QuestionRequest),
	}
	e.resync = newResyncer(client, st, log, metrics, cfg, func() time.Time { return e.now() }, e.cooldownUntil)
	e.notify = newNotifyBridge(notifiers, log, metrics, func() time.Time { return e.now() })
	e.notify.visible = func() bool { return e.host.Current().Visible }
	e.notify.active = e.ActiveSession
	e.notify.title = e.sessionTitle
	return e
}

func (e *Engine) sessionTitle(sid string) string {
	if s, ok := e.store.Session(sid); ok && s.Title != "" {
		return s.Title
	}
	return sid
}

// Start begins the subscription and the background loops. It returns once
// the loops are launched; connection establishment proceeds asynchronously.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	loopCtx := e.ctx
	e.mu.Unlock()

	e.resync.bind(loopCtx)

	go e.signalLoop(loopCtx)
	go e.watchdogLoop(loopCtx)
	go e.connect()

	e.log.Info("engine started")
	return nil
}

// Stop tears down the subscription and all timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	for _, s := range e.sess {
		if s.stallTimer != nil {
			s.stallTimer.Stop()
			s.stallTimer = nil
		}
	}
	cancel := e.cancel
	e.mu.Unlock()

	e.teardown()
	e.resync.stop()
	if cancel != nil {
		cancel()
	}
	e.setConn(session.ConnIdle, "")
	e.log.Info("engine stopped")
}

// dispatch decodes one raw envelope and applies it. A panic while applying
// one event must never take the stream down with it.
func (e *Engine) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic applying event", "panic", r)
		}
	}()

	ev, err := decodeEvent(raw)
	if err != nil {
		if err != errSkip {
			e.log.Debug("undecodable event", "error", err)
		}
		return
	}
	e.metrics.EventDecoded(string(ev.EventType()))
	e.appendJournal(ev, raw)

	switch t := ev.(type) {
	case event.ServerConnected:
		// The instance restarted under us; stream state may predate it.
		e.resync.request(e.ActiveSession(), "server connected")

	case event.InstanceDisposed:
		e.handleInstanceDisposed()

	case event.MCPToolsChanged:
		e.handleMCPToolsChanged(t)

	case event.SessionStatus:
		e.handleSessionStatus(t)

	case event.PartUpdated:
		e.handlePartUpdated(t)

	case event.PartDelta:
		e.handlePartDelta(t)

	case event.MessageUpdated:
		e.handleMessageUpdated(t)

	case event.SessionUpserted:
		e.store.PutSession(t.Session)

	case event.SessionDeleted:
		e.handleSessionDeleted(t.SessionID)

	case event.SessionAbort:
		e.handleSessionAbort(t)

	case event.PermissionAsked:
		e.addPermission(t.Request)

	case event.PermissionReplied:
		e.removePermission(t.SessionID, t.RequestID)

	case event.QuestionAsked:
		e.addQuestion(t.Request)

	case event.QuestionClosed:
		e.removeQuestion(t.SessionID, t.RequestID)

	case event.Notification:
		e.notify.upstream(t)

	case event.TodoUpdated:
		e.store.SetTodos(t.SessionID, t.Todos)
	}
}

// appendJournal persists the raw event when a journal store is configured.
func (e *Engine) appendJournal(ev event.Any, raw []byte) {
	if e.journal == nil {
		return
	}
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	rec := journal.Record{
		SessionID:  sessionOf(ev),
		EventType:  string(ev.EventType()),
		Payload:    json.RawMessage(raw),
		ReceivedAt: e.now(),
	}
	go func() {
		if err := e.journal.Append(ctx, rec); err != nil {
			e.log.Warn("journal append failed", "type", rec.EventType, "error", err)
		}
	}()
}

// sessionOf extracts the owning session id from a canonical event, for
// journaling. Events without one return "".
func sessionOf(ev event.Any) string {
	switch t := ev.(type) {
	case event.SessionStatus:
		return t.SessionID
	case event.PartUpdated:
		return t.SessionID
	case event.PartDelta:
		return t.SessionID
	case event.MessageUpdated:
		return t.Info.SessionID
	case event.SessionUpserted:
		return t.Session.ID
	case event.SessionDeleted:
		return t.SessionID
	case event.SessionAbort:
		return t.SessionID
	case event.PermissionAsked:
		return t.Request.SessionID
	case event.PermissionReplied:
		return t.SessionID
	case event.QuestionAsked:
		return t.Request.SessionID
	case event.QuestionClosed:
		return t.SessionID
	case event.TodoUpdated:
		return t.SessionID
	}
	return ""
}

// dropEvent records an event discarded by the merge rules.
func (e *Engine) dropEvent(t event.Type, reason string) {
	e.metrics.EventDropped(string(t), reason)
	e.log.Debug("event dropped", "type", t, "reason", reason)
}

// handleInstanceDisposed wipes all local state; the upstream instance is
// gone and nothing cached can be trusted to belong to its successor.
func (e *Engine) handleInstanceDisposed() {
	e.log.Info("upstream instance disposed, resetting state")

	e.mu.Lock()
	for _, s := range e.sess {
		if s.stallTimer != nil {
			s.stallTimer.Stop()
		}
	}
	e.sess = make(map[string]*sessState)
	e.selection = make(map[string]agentSelection)
	e.perms = make(map[string]map[string]session.PermissionRequest)
	e.questions = make(map[string]map[string]session.QuestionRequest)
	active := e.active
	e.mu.Unlock()

	e.store.Reset()
	e.resync.invalidateAll()
	go func() { _ = e.resync.bootstrap(active) }()
}

// handleMCPToolsChanged refreshes sessions rooted in the changed directory;
// tool availability affects rendered tool parts.
func (e *Engine) handleMCPToolsChanged(ev event.MCPToolsChanged) {
	for _, s := range e.store.Sessions() {
		if ev.Directory != "" && s.Directory != ev.Directory {
			continue
		}
		e.resync.invalidate(s.ID)
	}
	active := e.ActiveSession()
	if active != "" {
		e.resync.request(active, "mcp tools changed")
	}
}

func (e *Engine) handleSessionDeleted(sid string) {
	if sid == "" {
		e.dropEvent(event.TypeSessionDeleted, "unresolved ids")
		return
	}
	e.store.DeleteSession(sid)
	e.resync.invalidate(sid)

	e.mu.Lock()
	if s, ok := e.sess[sid]; ok && s.stallTimer != nil {
		s.stallTimer.Stop()
	}
	delete(e.sess, sid)
	delete(e.selection, sid)
	delete(e.perms, sid)
	delete(e.questions, sid)
	if e.active == sid {
		e.active = ""
	}
	e.mu.Unlock()
}

func (e *Engine) addPermission(req session.PermissionRequest) {
	if req.SessionID == "" || req.ID == "" {
		e.dropEvent(event.TypePermissionAsked, "unresolved ids")
		return
	}
	e.mu.Lock()
	if e.perms[req.SessionID] == nil {
		e.perms[req.SessionID] = make(map[string]session.PermissionRequest)
	}
	e.perms[req.SessionID][req.ID] = req
	e.mu.Unlock()

	e.notify.permissionAsked(req)
}

func (e *Engine) removePermission(sid, rid string) {
	e.mu.Lock()
	delete(e.perms[sid], rid)
	e.mu.Unlock()
}

func (e *Engine) addQuestion(req session.QuestionRequest) {
	if req.SessionID == "" || req.ID == "" {
		e.dropEvent(event.TypeQuestionAsked, "unresolved ids")
		return
	}
	e.mu.Lock()
	if e.questions[req.SessionID] == nil {
		e.questions[req.SessionID] = make(map[string]session.QuestionRequest)
	}
	e.questions[req.SessionID][req.ID] = req
	e.mu.Unlock()

	e.notify.questionAsked(req)
}

func (e *Engine) removeQuestion(sid, rid string) {
	e.mu.Lock()
	delete(e.questions[sid], rid)
	e.mu.Unlock()
}

// setConn installs a new connection status and publishes it to subscribers
// when it actually changed.
func (e *Engine) setConn(state session.ConnState, hint string) {
	e.mu.Lock()
	e.setConnLocked(state, hint)
	e.mu.Unlock()
}

// setConnLocked is setConn for callers already holding e.mu. Subscribers are
// notified asynchronously so they can call back into the engine.
func (e *Engine) setConnLocked(state session.ConnState, hint string) {
	next := session.ConnStatus{State: state, Hint: hint}
	if e.conn == next {
		return
	}
	e.conn = next
	subs := make([]func(session.ConnStatus), len(e.connSubs))
	copy(subs, e.connSubs)
	go func() {
		for _, fn := range subs {
			fn(next)
		}
	}()
}

// ConnStatus returns the current connection status.
func (e *Engine) ConnStatus() session.ConnStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// OnConnChange registers a subscriber for connection status transitions.
// Subscribers must be registered before Start.
func (e *Engine) OnConnChange(fn func(session.ConnStatus)) {
	e.mu.Lock()
	e.connSubs = append(e.connSubs, fn)
	e.mu.Unlock()
}

// ActiveSession returns the currently selected session id.
func (e *Engine) ActiveSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetActiveSession selects a session and hydrates its history.
func (e *Engine) SetActiveSession(sid string) {
	e.mu.Lock()
	changed := e.active != sid
	e.active = sid
	e.mu.Unlock()
	if changed && sid != "" {
		e.resync.request(sid, "session selected")
	}
}

// SetTrimmedHead records the eviction watermark for a session; stream
// events at or below it are dropped from then on.
func (e *Engine) SetTrimmedHead(sid, mid string) {
	e.store.SetTrimmedHead(sid, mid)
}

// Sessions returns all known sessions.
func (e *Engine) Sessions() []session.Session {
	return e.store.Sessions()
}

// Messages returns the merged message history for a session.
func (e *Engine) Messages(sid string) []*session.Message {
	return e.store.Messages(sid)
}

// Todos returns the session's todo list.
func (e *Engine) Todos(sid string) []session.Todo {
	return e.store.Todos(sid)
}

// Permissions returns the open permission prompts for a session.
func (e *Engine) Permissions(sid string) []session.PermissionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]session.PermissionRequest, 0, len(e.perms[sid]))
	for _, r := range e.perms[sid] {
		out = append(out, r)
	}
	return out
}

// Questions returns the open question prompts for a session.
func (e *Engine) Questions(sid string) []session.QuestionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]session.QuestionRequest, 0, len(e.questions[sid]))
	for _, r := range e.questions[sid] {
		out = append(out, r)
	}
	return out
}

// Selection returns the inferred agent/model for a session.
func (e *Engine) Selection(sid string) (agent, model string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sel, ok := e.selection[sid]
	return sel.Agent, sel.Model, ok
}

// RespondPermission answers an open permission prompt and clears it locally
// without waiting for the replied event.
func (e *Engine) RespondPermission(ctx context.Context, sid, rid string, reply api.PermissionReply) error {
	if err := e.api.RespondPermission(ctx, sid, rid, reply); err != nil {
		return err
	}
	e.removePermission(sid, rid)
	return nil
}

// RespondQuestion answers an open question prompt and clears it locally.
func (e *Engine) RespondQuestion(ctx context.Context, sid, rid string, answer json.RawMessage) error {
	if err := e.api.RespondQuestion(ctx, sid, rid, answer); err != nil {
		return err
	}
	e.removeQuestion(sid, rid)
	return nil
}
