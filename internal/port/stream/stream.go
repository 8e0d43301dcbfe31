// Package stream defines the event stream subscription port.
package stream

import "context"

// Handler receives subscription lifecycle callbacks. Callbacks are invoked
// from the transport's read goroutine; the engine serializes internally.
type Handler struct {
	// OnOpen fires once when the subscription is established.
	OnOpen func()
	// OnEvent fires once per raw event envelope.
	OnEvent func(raw []byte)
	// OnError fires when the subscription fails; the subscription is dead
	// after this and must be re-established by the caller.
	OnError func(err error)
}

// Source is the port to the upstream event stream.
type Source interface {
	// Subscribe opens the stream and returns a stop function. At most one
	// subscription per engine is active at a time; enforcing that is the
	// caller's job.
	Subscribe(ctx context.Context, h Handler) (stop func(), err error)

	// Healthy performs a lightweight health probe against the upstream.
	Healthy(ctx context.Context) bool
}
