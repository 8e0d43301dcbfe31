package engine

import (
	"strings"

	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
)

// System-injected user-part markers that stay visible in the transcript.
// Any other synthetic user-authored part is scaffolding and is dropped.
var syntheticAllowPrefixes = []string{
	"Mode switched to",
	"Plan file:",
	"User executed tool",
}

func allowedSyntheticText(text string) bool {
	for _, p := range syntheticAllowPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// belowTrimmedFloor reports whether the message id falls at or below the
// session's eviction watermark. Events below the floor are dropped so
// evicted history is never resurrected.
func (e *Engine) belowTrimmedFloor(sessionID, messageID string) bool {
	floor := e.store.TrimmedHead(sessionID)
	if floor == "" {
		return false
	}
	return !session.NewerID(messageID, floor)
}

// handlePartUpdated applies a full part replace.
func (e *Engine) handlePartUpdated(ev event.PartUpdated) {
	sid, mid := ev.SessionID, ev.MessageID
	if sid == "" || mid == "" {
		// Last resort: a previously-seen part resolves through the store.
		if rs, rm, ok := e.store.ResolvePart(ev.Part.ID); ok {
			if sid == "" {
				sid = rs
			}
			if mid == "" {
				mid = rm
			}
		}
	}
	if sid == "" || mid == "" {
		e.dropEvent(ev.EventType(), "unresolved ids")
		return
	}
	if e.belowTrimmedFloor(sid, mid) {
		e.dropEvent(ev.EventType(), "below trimmed floor")
		return
	}

	if ev.Part.Synthetic && !allowedSyntheticText(ev.Part.Text) {
		role := ""
		if ev.Info != nil {
			role = ev.Info.Role
		}
		if role == "" {
			if m, ok := e.store.Message(sid, mid); ok {
				role = m.Role
			}
		}
		if role != session.RoleAssistant {
			e.dropEvent(ev.EventType(), "synthetic user part")
			return
		}
	}

	// Materialize the owning message if this part raced ahead of it.
	if _, ok := e.store.Message(sid, mid); !ok {
		skeleton := &session.Message{ID: mid, SessionID: sid}
		if ev.Info != nil {
			cp := *ev.Info
			cp.ID = mid
			cp.SessionID = sid
			cp.Parts = nil
			skeleton = &cp
		}
		e.store.UpsertMessage(skeleton)
	}

	part := ev.Part
	part.SessionID = sid
	part.MessageID = mid
	if !e.store.UpsertPart(&part) {
		e.dropEvent(ev.EventType(), "message vanished")
		return
	}

	e.recordTraffic(sid)
	if part.Open() {
		e.markStreaming(sid)
		e.promoteBusy(sid)
	}
}

// handlePartDelta appends an incremental suffix to one field of an existing
// part. Deltas for absent parts are discarded, never back-filled. Repeated
// identical deltas concatenate: the transport delivers at-least-once without
// dedupe keys, and guessing idempotency here would lose real repetitions.
func (e *Engine) handlePartDelta(ev event.PartDelta) {
	sid, mid := ev.SessionID, ev.MessageID
	if (sid == "" || mid == "") && ev.PartID != "" {
		if rs, rm, ok := e.store.ResolvePart(ev.PartID); ok {
			if sid == "" {
				sid = rs
			}
			if mid == "" {
				mid = rm
			}
		}
	}
	if sid == "" || mid == "" || ev.PartID == "" || ev.Field == "" {
		e.dropEvent(ev.EventType(), "unresolved ids")
		return
	}
	if e.belowTrimmedFloor(sid, mid) {
		e.dropEvent(ev.EventType(), "below trimmed floor")
		return
	}

	if !e.store.AppendPartField(sid, mid, ev.PartID, ev.Field, ev.Delta) {
		e.dropEvent(ev.EventType(), "part not materialized")
		return
	}

	e.recordTraffic(sid)
	e.markStreaming(sid)
	e.promoteBusy(sid)
}

// handleMessageUpdated applies a message-level update.
func (e *Engine) handleMessageUpdated(ev event.MessageUpdated) {
	sid, mid := ev.Info.SessionID, ev.Info.ID
	if sid == "" || mid == "" {
		e.dropEvent(ev.EventType(), "unresolved ids")
		return
	}
	if e.belowTrimmedFloor(sid, mid) {
		e.dropEvent(ev.EventType(), "below trimmed floor")
		return
	}

	e.recordTraffic(sid)

	if ev.Info.Role == session.RoleUser {
		e.applyUserMessage(ev, sid, mid)
		return
	}
	e.applyAssistantMessage(ev, sid, mid)
}

func (e *Engine) applyUserMessage(ev event.MessageUpdated, sid, mid string) {
	msg := ev.Info
	if ev.HasParts {
		msg.Parts = ev.Parts
	}
	e.store.UpsertMessage(&msg)
	e.store.SetLastUserAt(sid, e.now())
	e.updateSelection(sid, mid, ev.Info)

	// The server sometimes omits parts on user updates; hydrate from the
	// authoritative history rather than leaving a hollow message.
	if !ev.HasParts {
		e.resync.request(sid, "hydrate user message")
	}
}

// updateSelection infers the effective agent+model for a session from user
// messages. A new message wins when its created timestamp is not older than
// the last accepted selection; ties go to the newest message id.
func (e *Engine) updateSelection(sid, mid string, info session.Message) {
	if info.Agent == "" && info.Model == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sel, ok := e.selection[sid]
	if ok {
		if info.Created < sel.Created {
			return
		}
		if info.Created == sel.Created && mid != sel.MsgID && !session.NewerID(mid, sel.MsgID) {
			return
		}
	}
	e.selection[sid] = agentSelection{
		Agent:   info.Agent,
		Model:   info.Model,
		Created: info.Created,
		MsgID:   mid,
	}
}

func (e *Engine) applyAssistantMessage(ev event.MessageUpdated, sid, mid string) {
	// Shrink guard: a slow full replace must not overwrite fresher streamed
	// content, unless it carries an authoritative terminal truncation.
	if ev.HasParts && ev.Info.Finish != session.FinishStop {
		if stored, ok := e.store.Message(sid, mid); ok {
			incoming := textLen(ev.Parts)
			if incoming < stored.TextLen()-e.cfg.ShrinkGuardChars {
				e.dropEvent(ev.EventType(), "shrink guard")
				return
			}
		}
	}

	msg := ev.Info
	if ev.HasParts {
		msg.Parts = ev.Parts
	}

	if msg.Finalized() && !e.mayFinalize(sid, mid) {
		// Out-of-order finalize: keep the content, strip the terminal
		// markers so a newer in-flight message is not closed.
		msg.Finish = ""
		msg.Status = ""
		msg.CompletedAt = 0
		if msg.Time != nil {
			t := *msg.Time
			t.Completed = 0
			msg.Time = &t
		}
		e.store.UpsertMessage(&msg)
		return
	}

	e.store.UpsertMessage(&msg)

	if msg.Finalized() {
		e.confirmIdle(sid)
	}
}

// mayFinalize gates finalization for the active session: only the
// most-recently-identified assistant message may close it.
func (e *Engine) mayFinalize(sid, mid string) bool {
	if e.ActiveSession() != sid {
		return true
	}
	latest := e.store.LatestAssistantID(sid)
	if latest == "" || latest == mid {
		return true
	}
	return session.NewerID(mid, latest)
}

func textLen(parts []*session.Part) int {
	n := 0
	for _, p := range parts {
		if p.Type == session.PartText || p.Type == session.PartReasoning {
			n += len(p.Text)
		}
	}
	return n
}

// handleSessionAbort finalizes the named message with an abort marker and
// settles the session back to idle.
func (e *Engine) handleSessionAbort(ev event.SessionAbort) {
	if ev.SessionID == "" {
		e.dropEvent(ev.EventType(), "unresolved ids")
		return
	}
	if ev.MessageID != "" {
		now := e.now().UnixMilli()
		e.store.WithMessage(ev.SessionID, ev.MessageID, func(m *session.Message) {
			m.Finish = session.FinishAbort
			if m.CompletedAt == 0 {
				m.CompletedAt = now
			}
		})
	}
	e.confirmIdle(ev.SessionID)
}
