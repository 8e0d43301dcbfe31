// Package hostsignal defines the port for environment signals that gate the
// stream subscription: host visibility, window focus, network reachability,
// and page lifecycle transitions.
package hostsignal

// Kind identifies an environment signal.
type Kind string

// Environment signals.
const (
	Show     Kind = "show"     // host became visible
	Hide     Kind = "hide"     // host became hidden
	Focus    Kind = "focus"    // window gained focus
	Online   Kind = "online"   // network came back
	Offline  Kind = "offline"  // network went away
	PageShow Kind = "pageshow" // host page restored from suspension
	PageHide Kind = "pagehide" // host page about to be suspended
)

// State is the current environment snapshot. A hidden-but-focused host still
// counts as holdable (the embedded-webview case).
type State struct {
	Visible bool
	Focused bool
	Online  bool
}

// Holdable reports whether the engine may hold an open stream subscription.
func (s State) Holdable() bool {
	return (s.Visible || s.Focused) && s.Online
}

// Source provides the current environment state and a signal feed.
type Source interface {
	// Current returns the environment snapshot at call time.
	Current() State

	// Signals returns the channel on which environment transitions arrive.
	// The channel is closed when the source shuts down.
	Signals() <-chan Kind
}

// Static is a Source with a fixed state and no signals, for headless hosts
// that are always visible and online.
type Static struct {
	State State
	ch    chan Kind
}

// NewStatic returns a Static source with the given state.
func NewStatic(st State) *Static {
	return &Static{State: st, ch: make(chan Kind)}
}

// Current returns the fixed state.
func (s *Static) Current() State { return s.State }

// Signals returns a channel that never fires.
func (s *Static) Signals() <-chan Kind { return s.ch }
