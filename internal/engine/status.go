package engine

import (
	"time"

	"github.com/openchamber/streamsync/internal/domain/event"
	"github.com/openchamber/streamsync/internal/domain/session"
)

// sessState is the engine-private bookkeeping for one session.
type sessState struct {
	status              session.Status
	busyEnteredAt       time.Time
	lastTrafficAt       time.Time
	lastStallRecoveryAt time.Time
	streamingUntil      time.Time
	stallTimer          *time.Timer
}

// state returns the bookkeeping record for a session, creating it on first
// touch. Caller must hold e.mu.
func (e *Engine) state(sid string) *sessState {
	st, ok := e.sess[sid]
	if !ok {
		st = &sessState{status: session.Status{Type: session.StatusIdle}}
		e.sess[sid] = st
	}
	return st
}

// handleSessionStatus applies an explicit status report.
func (e *Engine) handleSessionStatus(ev event.SessionStatus) {
	if ev.SessionID == "" {
		e.dropEvent(ev.EventType(), "unresolved ids")
		return
	}
	e.setStatus(ev.SessionID, ev.Status)
	if ev.Status.Type == session.StatusRetry {
		e.notify.sessionRetry(ev.SessionID, ev.Status)
	}
}

// setStatus installs a new status for the session in one atomic step and
// arms or clears the stall machinery around the transition.
func (e *Engine) setStatus(sid string, st session.Status) {
	e.mu.Lock()
	s := e.state(sid)
	prev := s.status
	if st.Type == session.StatusIdle {
		st.ConfirmedAt = e.now()
	}
	s.status = st

	enteredWorking := st.Working() && !prev.Working()
	settled := !st.Working() && prev.Working()

	if enteredWorking {
		s.busyEnteredAt = e.now()
		e.armStallTimerLocked(sid, s)
	}
	if settled && s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
	e.mu.Unlock()

	if settled && st.Type == session.StatusIdle {
		e.notify.sessionSettled(sid)
	}
}

// promoteBusy infers busy from streaming activity while status is idle or
// unset, unless idle was positively confirmed within the suppression window
// (reordered events right after completion must not flap the status).
func (e *Engine) promoteBusy(sid string) {
	e.mu.Lock()
	s := e.state(sid)
	if s.status.Working() {
		e.mu.Unlock()
		return
	}
	if !s.status.ConfirmedAt.IsZero() && e.now().Sub(s.status.ConfirmedAt) <= e.cfg.IdleConfirmWindow {
		e.mu.Unlock()
		return
	}
	s.status = session.Status{Type: session.StatusBusy}
	s.busyEnteredAt = e.now()
	e.armStallTimerLocked(sid, s)
	e.mu.Unlock()
}

// confirmIdle settles the session to a positively-confirmed idle.
func (e *Engine) confirmIdle(sid string) {
	e.setStatus(sid, session.Status{Type: session.StatusIdle})
}

// forceIdle settles a stuck session without the completion notification;
// nothing actually finished, the watchdog gave up waiting.
func (e *Engine) forceIdle(sid string) {
	e.mu.Lock()
	s := e.state(sid)
	s.status = session.Status{Type: session.StatusIdle, ConfirmedAt: e.now()}
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
	e.mu.Unlock()
}

// recordTraffic stamps message-level event traffic for the session.
func (e *Engine) recordTraffic(sid string) {
	e.mu.Lock()
	e.state(sid).lastTrafficAt = e.now()
	e.mu.Unlock()
}

// markStreaming opens the per-session streaming cooldown consulted by the
// resync coordinator.
func (e *Engine) markStreaming(sid string) {
	e.mu.Lock()
	e.state(sid).streamingUntil = e.now().Add(e.cfg.StreamCooldown)
	e.mu.Unlock()
}

// cooldownUntil reports the session's streaming cooldown deadline.
func (e *Engine) cooldownUntil(sid string) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sess[sid]; ok {
		return s.streamingUntil
	}
	return time.Time{}
}

// armStallTimerLocked (re)arms the stall timer for a session. Caller must
// hold e.mu.
func (e *Engine) armStallTimerLocked(sid string, s *sessState) {
	if s.stallTimer != nil {
		s.stallTimer.Stop()
	}
	s.stallTimer = time.AfterFunc(e.cfg.StallDelay, func() { e.stallCheck(sid) })
}

// stallCheck fires StallDelay after a session entered busy/retry. A session
// that went busy with zero message traffic since is evidence of a missed or
// broken stream: recover with a soft resync plus a reconnect, at most once
// per StallRecoveryFloor per session.
func (e *Engine) stallCheck(sid string) {
	e.mu.Lock()
	s, ok := e.sess[sid]
	if !ok || !s.status.Working() {
		e.mu.Unlock()
		return
	}
	if s.lastTrafficAt.After(s.busyEnteredAt) {
		e.mu.Unlock()
		return
	}
	if !s.lastStallRecoveryAt.IsZero() && e.now().Sub(s.lastStallRecoveryAt) < e.cfg.StallRecoveryFloor {
		e.mu.Unlock()
		return
	}
	s.lastStallRecoveryAt = e.now()
	e.mu.Unlock()

	e.log.Warn("session stalled, recovering", "session", sid)
	e.metrics.StallRecovered(sid)
	e.resync.request(sid, "stall")
	e.ScheduleReconnect("stall: " + sid)
}

// anyWorking reports whether any session is busy or retrying.
func (e *Engine) anyWorking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sess {
		if s.status.Working() {
			return true
		}
	}
	return false
}

// workingSessions returns the ids of all busy/retry sessions.
func (e *Engine) workingSessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for sid, s := range e.sess {
		if s.status.Working() {
			out = append(out, sid)
		}
	}
	return out
}

// statusWatchdog is the coarse tick that guarantees no session spins
// forever: busy/retry longer than BusyTimeout with a quiet stream is forced
// back to idle.
func (e *Engine) statusWatchdog() {
	now := e.now()
	var stuck []string
	e.mu.Lock()
	for sid, s := range e.sess {
		if !s.status.Working() {
			continue
		}
		if now.Sub(s.busyEnteredAt) <= e.cfg.BusyTimeout {
			continue
		}
		if !s.lastTrafficAt.IsZero() && now.Sub(s.lastTrafficAt) <= e.cfg.QuietBeforeForceIdle {
			continue
		}
		stuck = append(stuck, sid)
	}
	e.mu.Unlock()

	for _, sid := range stuck {
		e.log.Warn("forcing stuck session idle", "session", sid)
		e.forceIdle(sid)
	}
}

// Status returns the current status for a session.
func (e *Engine) Status(sid string) session.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sess[sid]; ok {
		return s.status
	}
	return session.Status{Type: session.StatusIdle}
}

// Statuses returns a copy of all known session statuses.
func (e *Engine) Statuses() map[string]session.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]session.Status, len(e.sess))
	for sid, s := range e.sess {
		out[sid] = s.status
	}
	return out
}
