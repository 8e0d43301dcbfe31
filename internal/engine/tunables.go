package engine

import "time"

// Tunables are the timing knobs of the sync engine. Defaults implement the
// documented reconciliation behavior; tests shrink them to keep runs fast.
type Tunables struct {
	// StaleAfter is how long the stream may stay silent while holdable
	// before it is treated as broken regardless of transport health.
	StaleAfter time.Duration `yaml:"stale_after"`

	// WatchdogTick is the period of the connection watchdog.
	WatchdogTick time.Duration `yaml:"watchdog_tick"`

	// StatusTick is the period of the coarse stuck-session watchdog.
	StatusTick time.Duration `yaml:"status_tick"`

	// StallDelay is how long after entering busy/retry the engine waits for
	// corroborating message traffic before forcing recovery.
	StallDelay time.Duration `yaml:"stall_delay"`

	// StallRecoveryFloor is the minimum gap between stall recoveries for
	// one session.
	StallRecoveryFloor time.Duration `yaml:"stall_recovery_floor"`

	// BusyTimeout is how long a session may sit in busy/retry before the
	// coarse watchdog considers forcing it idle.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// QuietBeforeForceIdle is the event silence required, in addition to
	// BusyTimeout, before a stuck session is forced idle.
	QuietBeforeForceIdle time.Duration `yaml:"quiet_before_force_idle"`

	// IdleConfirmWindow suppresses busy promotion from reordered events
	// right after idle was positively confirmed.
	IdleConfirmWindow time.Duration `yaml:"idle_confirm_window"`

	// ResyncDedupe drops repeated resync requests arriving within this
	// window of the last completed resync.
	ResyncDedupe time.Duration `yaml:"resync_dedupe"`

	// StreamCooldown is how long after streaming activity a full resync is
	// deferred to avoid clobbering an in-flight burst.
	StreamCooldown time.Duration `yaml:"stream_cooldown"`

	// StreamCooldownCap bounds how far a resync may be deferred by cooldown.
	StreamCooldownCap time.Duration `yaml:"stream_cooldown_cap"`

	// ShrinkGuardChars is how much shorter an assistant full-replace may be
	// than the stored text before it is rejected as stale.
	ShrinkGuardChars int `yaml:"shrink_guard_chars"`

	// JitterMax is the upper bound (exclusive) of reconnect jitter.
	JitterMax time.Duration `yaml:"jitter_max"`

	// ResyncLimit is the message count requested on resync. Zero means the
	// server default.
	ResyncLimit int `yaml:"resync_limit"`
}

// DefaultTunables returns the production timing configuration.
func DefaultTunables() Tunables {
	return Tunables{
		StaleAfter:           45 * time.Second,
		WatchdogTick:         10 * time.Second,
		StatusTick:           30 * time.Second,
		StallDelay:           2 * time.Second,
		StallRecoveryFloor:   15 * time.Second,
		BusyTimeout:          5 * time.Minute,
		QuietBeforeForceIdle: 60 * time.Second,
		IdleConfirmWindow:    1200 * time.Millisecond,
		ResyncDedupe:         750 * time.Millisecond,
		StreamCooldown:       1500 * time.Millisecond,
		StreamCooldownCap:    3 * time.Second,
		ShrinkGuardChars:     50,
		JitterMax:            250 * time.Millisecond,
		ResyncLimit:          200,
	}
}

// backoffDelay returns the reconnect delay for the given attempt (1-based),
// before jitter. Attempts 1-3 double from 1s capped at 8s; later attempts
// double from 2s capped at 32s.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt <= 3 {
		d := time.Second << (attempt - 1)
		if d > 8*time.Second {
			d = 8 * time.Second
		}
		return d
	}
	shift := attempt - 3
	if shift > 5 {
		shift = 5 // 2s << 5 hits the 32s cap; avoid overflow on huge attempts
	}
	d := 2 * time.Second << shift
	if d > 32*time.Second {
		d = 32 * time.Second
	}
	return d
}
