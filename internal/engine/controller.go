package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/openchamber/streamsync/internal/domain/session"
	"github.com/openchamber/streamsync/internal/port/hostsignal"
	"github.com/openchamber/streamsync/internal/port/stream"
)

// holdable reports whether the engine may hold an open subscription right now.
func (e *Engine) holdable() bool {
	return e.host.Current().Holdable()
}

// jitter returns a random delay in [0, JitterMax).
func (e *Engine) jitter() time.Duration {
	if e.cfg.JitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(e.cfg.JitterMax)))
}

// connect opens the subscription. At most one is active; a stale handle is
// torn down first by the caller.
func (e *Engine) connect() {
	e.mu.Lock()
	if !e.running || e.stopStream != nil {
		e.mu.Unlock()
		return
	}
	e.connGen++
	gen := e.connGen
	ctx := e.ctx
	e.setConnLocked(session.ConnConnecting, "")
	e.mu.Unlock()

	stop, err := e.src.Subscribe(ctx, stream.Handler{
		OnOpen:  func() { e.onStreamOpen(gen) },
		OnEvent: func(raw []byte) { e.onStreamEvent(gen, raw) },
		OnError: func(err error) { e.onStreamError(gen, err) },
	})
	if err != nil {
		e.log.Warn("subscribe failed", "error", err)
		e.scheduleRetry(err.Error())
		return
	}

	e.mu.Lock()
	if e.connGen != gen || !e.running {
		// Torn down while dialing.
		e.mu.Unlock()
		stop()
		return
	}
	e.stopStream = stop
	e.mu.Unlock()
}

// currentGen reports whether the callback belongs to the live subscription.
func (e *Engine) currentGen(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connGen == gen && e.running
}

func (e *Engine) onStreamOpen(gen uint64) {
	e.mu.Lock()
	if e.connGen != gen || !e.running {
		e.mu.Unlock()
		return
	}
	e.attempt = 0
	e.lastEventAt = e.now()
	resume := e.pendingResume
	e.pendingResume = false
	active := e.active
	e.setConnLocked(session.ConnConnected, "")
	e.mu.Unlock()

	if resume {
		// This open follows a pause/offline period; the stream may have
		// missed arbitrary history, so reload everything that matters.
		go func() { _ = e.resync.bootstrap(active) }()
		return
	}
	e.resync.request(active, "connected")
}

func (e *Engine) onStreamEvent(gen uint64, raw []byte) {
	if !e.currentGen(gen) {
		return
	}
	e.mu.Lock()
	e.lastEventAt = e.now()
	e.mu.Unlock()
	e.dispatch(raw)
}

func (e *Engine) onStreamError(gen uint64, err error) {
	if !e.currentGen(gen) {
		return
	}
	e.log.Warn("stream error", "error", err)
	e.teardown()
	e.scheduleRetry(err.Error())
}

// teardown closes the active subscription, if any, and invalidates its
// callbacks.
func (e *Engine) teardown() {
	e.mu.Lock()
	stop := e.stopStream
	e.stopStream = nil
	// Bump even when no handle is held yet: a connect() still in flight
	// must discard the handle it is about to install.
	e.connGen++
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// scheduleRetry arms the single backoff timer. While not holdable no timer
// is armed; the next environment signal resumes instead.
func (e *Engine) scheduleRetry(hint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if !e.holdable() {
		e.pendingResume = true
		e.setConnLocked(e.pausedState(), "")
		return
	}
	if e.reconnectTimer != nil {
		return
	}
	e.attempt++
	delay := backoffDelay(e.attempt) + e.jitter()
	e.setConnLocked(session.ConnReconnecting, hint)
	e.metrics.ReconnectScheduled(e.attempt)
	e.log.Info("reconnect scheduled", "attempt", e.attempt, "delay", delay)
	e.reconnectTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.reconnectTimer = nil
		e.mu.Unlock()
		e.connect()
	})
}

// pausedState maps the current environment to paused or offline.
func (e *Engine) pausedState() session.ConnState {
	if !e.host.Current().Online {
		return session.ConnOffline
	}
	return session.ConnPaused
}

// ScheduleReconnect tears down the current subscription and arms a
// backoff-delayed reconnect. Safe to call from any goroutine.
func (e *Engine) ScheduleReconnect(hint string) {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return
	}
	e.teardown()
	e.scheduleRetry(hint)
}

// forceReconnect reconnects immediately, optionally resetting the attempt
// counter, canceling any pending backoff timer.
func (e *Engine) forceReconnect(resetAttempts bool) {
	e.teardown()
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if resetAttempts {
		e.attempt = 0
	}
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	e.mu.Unlock()
	e.connect()
}

// pause tears the subscription down because the host is no longer holdable.
func (e *Engine) pause() {
	e.mu.Lock()
	e.pendingResume = true
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	state := e.pausedState()
	e.mu.Unlock()

	e.teardown()
	e.setConn(state, "")
}

// streamStale reports whether the stream has been silent past StaleAfter.
func (e *Engine) streamStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopStream == nil || e.lastEventAt.IsZero() ||
		e.now().Sub(e.lastEventAt) > e.cfg.StaleAfter
}

// resumeCheck re-evaluates holdability after a restorative environment
// signal and forces a reconnect when the stream is stale or absent.
func (e *Engine) resumeCheck() {
	if !e.holdable() {
		return
	}
	if !e.streamStale() {
		return
	}
	e.log.Info("environment restored, reconnecting")
	e.forceReconnect(true)
}

// signalLoop reacts to environment signals for the engine's lifetime.
func (e *Engine) signalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-e.host.Signals():
			if !ok {
				return
			}
			switch sig {
			case hostsignal.Hide, hostsignal.PageHide, hostsignal.Offline:
				if !e.holdable() {
					e.pause()
				}
			case hostsignal.Show, hostsignal.Focus, hostsignal.Online, hostsignal.PageShow:
				e.resumeCheck()
			}
		}
	}
}

// watchdogLoop runs the periodic connection watchdog and the coarse session
// status watchdog.
func (e *Engine) watchdogLoop(ctx context.Context) {
	conn := time.NewTicker(e.cfg.WatchdogTick)
	status := time.NewTicker(e.cfg.StatusTick)
	defer conn.Stop()
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.C:
			e.connWatchdog()
		case <-status.C:
			e.statusWatchdog()
		}
	}
}

// connWatchdog polls quiet busy sessions out-of-band and treats a stream
// silent past StaleAfter as broken even when the transport looks healthy.
func (e *Engine) connWatchdog() {
	if !e.holdable() {
		return
	}

	e.mu.Lock()
	running := e.running
	connected := e.stopStream != nil
	silentFor := time.Duration(0)
	if !e.lastEventAt.IsZero() {
		silentFor = e.now().Sub(e.lastEventAt)
	}
	ctx := e.ctx
	e.mu.Unlock()
	if !running {
		return
	}

	for _, sid := range e.workingSessions() {
		e.mu.Lock()
		quiet := true
		if s, ok := e.sess[sid]; ok && !s.lastTrafficAt.IsZero() {
			quiet = e.now().Sub(s.lastTrafficAt) > e.cfg.WatchdogTick
		}
		e.mu.Unlock()
		if quiet {
			e.resync.request(sid, "status poll")
		}
	}

	if connected && silentFor > e.cfg.StaleAfter {
		go func() {
			healthy := e.src.Healthy(ctx)
			e.log.Warn("stream silent too long, reconnecting",
				"silent_for", silentFor, "probe_healthy", healthy)
			e.teardown()
			e.scheduleRetry("stream stale")
		}()
	}
}
