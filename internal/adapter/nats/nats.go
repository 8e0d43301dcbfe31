// Package nats implements the notifier port by fanning notifications out to
// NATS JetStream, where desktop shells and other consumers pick them up.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openchamber/streamsync/internal/port/notifier"
)

const streamName = "STREAMSYNC"

// Notifier publishes notifications to NATS JetStream subjects of the form
// notify.<level>.
type Notifier struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Notifier, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"notify.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Notifier{nc: nc, js: js}, nil
}

// Name implements notifier.Notifier.
func (n *Notifier) Name() string { return "nats" }

// Capabilities implements notifier.Notifier.
func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Replaceable: false, RichFormatting: false}
}

// Send publishes the notification to notify.<level>.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.js == nil {
		return notifier.ErrNotConfigured
	}
	level := notification.Level
	if level == "" {
		level = "info"
	}
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := n.js.Publish(ctx, "notify."+level, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (n *Notifier) Close() error {
	n.nc.Close()
	return nil
}
