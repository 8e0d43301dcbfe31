package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/openchamber/streamsync/internal/adapter/otel"
	"github.com/openchamber/streamsync/internal/port/api"
	"github.com/openchamber/streamsync/internal/store"
)

// resyncer pulls authoritative message snapshots when the stream alone can
// no longer be trusted. Concurrent requests for one session collapse into
// the in-flight fetch; repeated requests right after a completed resync are
// dropped; a session mid-stream-burst defers rather than racing the burst.
type resyncer struct {
	api     api.Client
	store   *store.Store
	log     *slog.Logger
	metrics *otel.Metrics
	cfg     Tunables
	now     func() time.Time

	// cooldown reports the session's streaming-cooldown deadline.
	cooldown func(sid string) time.Time

	group singleflight.Group

	mu       sync.Mutex
	ctx      context.Context
	lastDone map[string]time.Time
	deferred map[string]*time.Timer
	gen      map[string]uint64
}

func newResyncer(client api.Client, st *store.Store, log *slog.Logger, metrics *otel.Metrics, cfg Tunables, now func() time.Time, cooldown func(string) time.Time) *resyncer {
	return &resyncer{
		api:      client,
		store:    st,
		log:      log,
		metrics:  metrics,
		cfg:      cfg,
		now:      now,
		cooldown: cooldown,
		ctx:      context.Background(),
		lastDone: make(map[string]time.Time),
		deferred: make(map[string]*time.Timer),
		gen:      make(map[string]uint64),
	}
}

// bind installs the lifetime context for background fetches.
func (r *resyncer) bind(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// invalidate advances the session's generation counter; any fetch result
// captured under an older generation is discarded on arrival.
func (r *resyncer) invalidate(sid string) {
	r.mu.Lock()
	r.gen[sid]++
	delete(r.lastDone, sid)
	r.mu.Unlock()
}

// invalidateAll advances every known generation counter.
func (r *resyncer) invalidateAll() {
	r.mu.Lock()
	for sid := range r.gen {
		r.gen[sid]++
	}
	r.lastDone = make(map[string]time.Time)
	r.mu.Unlock()
}

// request schedules a debounced resync of the session's messages.
func (r *resyncer) request(sid, reason string) {
	if sid == "" {
		return
	}

	r.mu.Lock()
	if _, pending := r.deferred[sid]; pending {
		r.mu.Unlock()
		return
	}

	now := r.now()
	if until := r.cooldown(sid); until.After(now) {
		// A full reload must not race a live stream burst; wait out the
		// remaining cooldown, capped so recovery is never postponed forever.
		wait := until.Sub(now)
		if wait > r.cfg.StreamCooldownCap {
			wait = r.cfg.StreamCooldownCap
		}
		r.deferred[sid] = time.AfterFunc(wait, func() {
			r.mu.Lock()
			delete(r.deferred, sid)
			r.mu.Unlock()
			go r.run(sid, reason+" (deferred)")
		})
		r.mu.Unlock()
		return
	}

	if done, ok := r.lastDone[sid]; ok && now.Sub(done) < r.cfg.ResyncDedupe {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	go r.run(sid, reason)
}

// run performs the fetch-and-install, collapsed per session.
func (r *resyncer) run(sid, reason string) {
	r.mu.Lock()
	ctx := r.ctx
	gen := r.gen[sid]
	r.mu.Unlock()

	_, err, _ := r.group.Do(sid, func() (any, error) {
		r.metrics.ResyncStarted(reason)
		msgs, err := r.api.ListMessages(ctx, sid, r.cfg.ResyncLimit)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		stale := r.gen[sid] != gen
		if !stale {
			r.lastDone[sid] = r.now()
		}
		r.mu.Unlock()
		if stale {
			r.log.Debug("resync result discarded", "session", sid, "reason", reason)
			return nil, nil
		}

		r.store.ReplaceMessages(sid, msgs)
		return nil, nil
	})
	if err != nil {
		// Transport failures recover via the connection controller; a
		// failed resync is retried on the next trigger.
		r.log.Warn("resync failed", "session", sid, "reason", reason, "error", err)
	}
}

// bootstrap reloads the full session list plus the active session's
// messages. Reserved for reconnects that followed a pause/offline period.
func (r *resyncer) bootstrap(activeSID string) error {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sessions, err := r.api.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			r.store.PutSession(s)
		}
		return nil
	})

	if activeSID != "" {
		g.Go(func() error {
			r.mu.Lock()
			gen := r.gen[activeSID]
			r.mu.Unlock()

			msgs, err := r.api.ListMessages(ctx, activeSID, r.cfg.ResyncLimit)
			if err != nil {
				return err
			}

			r.mu.Lock()
			stale := r.gen[activeSID] != gen
			if !stale {
				r.lastDone[activeSID] = r.now()
			}
			r.mu.Unlock()
			if stale {
				return nil
			}
			r.store.ReplaceMessages(activeSID, msgs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.log.Warn("bootstrap failed", "error", err)
		return err
	}
	return nil
}

// stop cancels any deferred resync timers.
func (r *resyncer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, t := range r.deferred {
		t.Stop()
		delete(r.deferred, sid)
	}
}
