// Package journal defines the optional append-only archive for decoded
// events. The engine owns no persisted state; the journal is a debugging
// side-channel written on the way past, never read back by the engine.
package journal

import (
	"context"
	"encoding/json"
	"time"
)

// Record is one archived decoded event.
type Record struct {
	SessionID  string          `json:"session_id,omitempty"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Store is the append-only journal port.
type Store interface {
	Append(ctx context.Context, rec Record) error
}
