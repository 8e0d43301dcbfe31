// Package store holds the client-side materialized view of sessions,
// messages, and parts. The sync engine is its sole realtime writer; external
// components only read snapshots or go through engine-exposed intents.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/openchamber/streamsync/internal/adapter/ristretto"
	"github.com/openchamber/streamsync/internal/domain/session"
)

const lookupSep = "\x1f"

// Store is the in-memory message store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	messages map[string][]*session.Message          // per session, ordered by id
	index    map[string]map[string]*session.Message // sessionID -> messageID
	trimmed  map[string]string                      // sessionID -> trimmedHeadMaxID watermark
	lastUser map[string]time.Time                   // sessionID -> last user message seen
	todos    map[string][]session.Todo

	lookup *ristretto.Lookup // partID -> sessionID<sep>messageID
}

// New creates an empty store with a bounded part-resolution cache.
func New(lookup *ristretto.Lookup) *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
		messages: make(map[string][]*session.Message),
		index:    make(map[string]map[string]*session.Message),
		trimmed:  make(map[string]string),
		lastUser: make(map[string]time.Time),
		todos:    make(map[string][]session.Todo),
		lookup:   lookup,
	}
}

// Reset drops all materialized state. Used when the upstream instance is
// disposed; everything is rebuilt from the next bootstrap.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*session.Session)
	s.messages = make(map[string][]*session.Message)
	s.index = make(map[string]map[string]*session.Message)
	s.trimmed = make(map[string]string)
	s.lastUser = make(map[string]time.Time)
	s.todos = make(map[string][]session.Todo)
}

// PutSession inserts or replaces session metadata.
func (s *Store) PutSession(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.ID] = &cp
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, false
	}
	return *sess, true
}

// Sessions returns copies of all sessions, ordered by id.
func (s *Store) Sessions() []session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteSession removes a session and all its messages.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for _, m := range s.messages[id] {
		for _, p := range m.Parts {
			s.lookup.Del(p.ID)
		}
	}
	delete(s.messages, id)
	delete(s.index, id)
	delete(s.trimmed, id)
	delete(s.lastUser, id)
	delete(s.todos, id)
}

// UpsertMessage inserts a message or merges metadata onto an existing one.
// New messages are inserted in id order. Part lists are only replaced when
// the caller provides one.
func (s *Store) UpsertMessage(msg *session.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(msg)
}

func (s *Store) upsertLocked(msg *session.Message) *session.Message {
	byID := s.index[msg.SessionID]
	if byID == nil {
		byID = make(map[string]*session.Message)
		s.index[msg.SessionID] = byID
	}
	existing, ok := byID[msg.ID]
	if !ok {
		cp := *msg
		cp.Time = copyTime(msg.Time)
		cp.Parts = clonePartList(msg.Parts, msg.SessionID, msg.ID)
		byID[msg.ID] = &cp
		s.insertOrdered(msg.SessionID, &cp)
		s.indexParts(&cp)
		return &cp
	}
	mergeMessageMeta(existing, msg)
	if msg.Parts != nil {
		existing.Parts = clonePartList(msg.Parts, msg.SessionID, msg.ID)
		s.indexParts(existing)
	}
	return existing
}

// mergeMessageMeta copies non-zero metadata fields from src onto dst.
func mergeMessageMeta(dst, src *session.Message) {
	if src.Role != "" {
		dst.Role = src.Role
	}
	if src.Agent != "" {
		dst.Agent = src.Agent
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Finish != "" {
		dst.Finish = src.Finish
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.Created != 0 {
		dst.Created = src.Created
	}
	if src.CompletedAt != 0 {
		dst.CompletedAt = src.CompletedAt
	}
	if src.Time != nil {
		dst.Time = copyTime(src.Time)
	}
}

func (s *Store) insertOrdered(sessionID string, msg *session.Message) {
	list := s.messages[sessionID]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID >= msg.ID })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.messages[sessionID] = list
}

func (s *Store) indexParts(msg *session.Message) {
	for _, p := range msg.Parts {
		s.lookup.Set(p.ID, msg.SessionID+lookupSep+msg.ID)
	}
}

func clonePartList(parts []*session.Part, sessionID, messageID string) []*session.Part {
	out := make([]*session.Part, 0, len(parts))
	for _, p := range parts {
		cp := copyPart(p)
		cp.SessionID = sessionID
		cp.MessageID = messageID
		out = append(out, cp)
	}
	return out
}

func copyTime(t *session.TimeRange) *session.TimeRange {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// copyPart deep-copies a part. State and Time must not be shared: streaming
// deltas mutate them in place under the store lock, while snapshot holders
// read without it.
func copyPart(p *session.Part) *session.Part {
	cp := *p
	cp.Time = copyTime(p.Time)
	if p.State != nil {
		st := *p.State
		st.Time = copyTime(p.State.Time)
		cp.State = &st
	}
	return &cp
}

// WithMessage runs fn on the stored message under the write lock. It returns
// false if the message does not exist. All engine read-modify-write merge
// steps go through here so each transition is one atomic section.
func (s *Store) WithMessage(sessionID, messageID string, fn func(m *session.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[sessionID][messageID]
	if !ok {
		return false
	}
	fn(m)
	return true
}

// Message returns a deep copy of the stored message.
func (s *Store) Message(sessionID, messageID string) (*session.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.index[sessionID][messageID]
	if !ok {
		return nil, false
	}
	return copyMessage(m), true
}

// Messages returns deep copies of all messages for a session, ordered by id.
func (s *Store) Messages(sessionID string) []*session.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[sessionID]
	out := make([]*session.Message, 0, len(list))
	for _, m := range list {
		out = append(out, copyMessage(m))
	}
	return out
}

func copyMessage(m *session.Message) *session.Message {
	cp := *m
	cp.Time = copyTime(m.Time)
	cp.Parts = make([]*session.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		cp.Parts = append(cp.Parts, copyPart(p))
	}
	return &cp
}

// UpsertPart inserts or fully replaces a part on its message. The message
// must already exist; the caller resolves ids before calling.
func (s *Store) UpsertPart(part *session.Part) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[part.SessionID][part.MessageID]
	if !ok {
		return false
	}
	cp := copyPart(part)
	for i, p := range m.Parts {
		if p.ID == part.ID {
			m.Parts[i] = cp
			return true
		}
	}
	m.Parts = append(m.Parts, cp)
	s.lookup.Set(part.ID, part.SessionID+lookupSep+part.MessageID)
	return true
}

// AppendPartField appends delta to the named field of an existing part.
// Unknown fields and absent parts are reported as not applied; deltas are
// never back-filled speculatively.
func (s *Store) AppendPartField(sessionID, messageID, partID, field, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.index[sessionID][messageID]
	if !ok {
		return false
	}
	for _, p := range m.Parts {
		if p.ID != partID {
			continue
		}
		switch field {
		case "text":
			p.Text += delta
		case "output":
			if p.State == nil {
				p.State = &session.ToolState{}
			}
			p.State.Output += delta
		default:
			return false
		}
		return true
	}
	return false
}

// ResolvePart returns the (sessionID, messageID) pair owning the given part,
// consulting the bounded lookup cache first and falling back to a scan.
func (s *Store) ResolvePart(partID string) (sessionID, messageID string, ok bool) {
	if v, hit := s.lookup.Get(partID); hit {
		for i := 0; i < len(v); i++ {
			if v[i] == lookupSep[0] {
				return v[:i], v[i+1:], true
			}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sid, list := range s.messages {
		for _, m := range list {
			for _, p := range m.Parts {
				if p.ID == partID {
					s.lookup.Set(partID, sid+lookupSep+m.ID)
					return sid, m.ID, true
				}
			}
		}
	}
	return "", "", false
}

// ReplaceMessages installs an authoritative message snapshot for a session,
// as fetched during resync/bootstrap. Messages at or below the trimmed-head
// watermark are not resurrected.
func (s *Store) ReplaceMessages(sessionID string, msgs []*session.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	floor := s.trimmed[sessionID]
	s.messages[sessionID] = nil
	s.index[sessionID] = make(map[string]*session.Message)
	for _, m := range msgs {
		if floor != "" && !session.NewerID(m.ID, floor) {
			continue
		}
		m.SessionID = sessionID
		s.upsertLocked(m)
	}
}

// SetTrimmedHead records the watermark below which history was evicted.
func (s *Store) SetTrimmedHead(sessionID, maxID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimmed[sessionID] = maxID
}

// TrimmedHead returns the eviction watermark for a session, if any.
func (s *Store) TrimmedHead(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trimmed[sessionID]
}

// SetLastUserAt stamps when a user message was last seen for the session.
func (s *Store) SetLastUserAt(sessionID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUser[sessionID] = t
}

// LastUserAt returns when a user message was last seen for the session.
func (s *Store) LastUserAt(sessionID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUser[sessionID]
}

// SetTodos replaces a session's todo list.
func (s *Store) SetTodos(sessionID string, todos []session.Todo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[sessionID] = append([]session.Todo(nil), todos...)
}

// Todos returns a copy of a session's todo list.
func (s *Store) Todos(sessionID string) []session.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]session.Todo(nil), s.todos[sessionID]...)
}

// LatestAssistantID returns the newest assistant message id for the session
// under the id ordering used everywhere else.
func (s *Store) LatestAssistantID(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := ""
	for _, m := range s.messages[sessionID] {
		if m.Role != session.RoleAssistant {
			continue
		}
		if latest == "" || session.NewerID(m.ID, latest) {
			latest = m.ID
		}
	}
	return latest
}
