package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "streamsync"

// Metrics holds all streamsync engine instruments. A nil *Metrics is a
// valid no-op receiver.
type Metrics struct {
	eventsDecoded   metric.Int64Counter
	eventsDropped   metric.Int64Counter
	reconnects      metric.Int64Counter
	resyncs         metric.Int64Counter
	stallRecoveries metric.Int64Counter
	notifications   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.eventsDecoded, err = meter.Int64Counter("streamsync.events.decoded",
		metric.WithDescription("Events decoded from the stream"))
	if err != nil {
		return nil, err
	}

	m.eventsDropped, err = meter.Int64Counter("streamsync.events.dropped",
		metric.WithDescription("Events dropped by the merge engine"))
	if err != nil {
		return nil, err
	}

	m.reconnects, err = meter.Int64Counter("streamsync.reconnects",
		metric.WithDescription("Reconnect attempts scheduled"))
	if err != nil {
		return nil, err
	}

	m.resyncs, err = meter.Int64Counter("streamsync.resyncs",
		metric.WithDescription("Full message resyncs started"))
	if err != nil {
		return nil, err
	}

	m.stallRecoveries, err = meter.Int64Counter("streamsync.stall_recoveries",
		metric.WithDescription("Stall recoveries triggered"))
	if err != nil {
		return nil, err
	}

	m.notifications, err = meter.Int64Counter("streamsync.notifications",
		metric.WithDescription("System notifications surfaced"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EventDecoded records one decoded event of the given type.
func (m *Metrics) EventDecoded(eventType string) {
	if m == nil {
		return
	}
	m.eventsDecoded.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", eventType)))
}

// EventDropped records one dropped event with the drop reason.
func (m *Metrics) EventDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("type", eventType),
			attribute.String("reason", reason),
		))
}

// ReconnectScheduled records one scheduled reconnect attempt.
func (m *Metrics) ReconnectScheduled(attempt int) {
	if m == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// ResyncStarted records one resync with its trigger reason.
func (m *Metrics) ResyncStarted(reason string) {
	if m == nil {
		return
	}
	m.resyncs.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// StallRecovered records one stall recovery.
func (m *Metrics) StallRecovered(sessionID string) {
	if m == nil {
		return
	}
	m.stallRecoveries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("session", sessionID)))
}

// NotificationSent records one surfaced notification.
func (m *Metrics) NotificationSent(source string) {
	if m == nil {
		return
	}
	m.notifications.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("source", source)))
}
