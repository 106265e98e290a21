// Package events publishes job lifecycle events over NATS JetStream for
// external consumers (log shipping, dashboards). Publishing is best effort;
// queue correctness never depends on it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Event types published per job.
const (
	TypeClaimed   = "claimed"
	TypeCompleted = "completed"
	TypeRetried   = "retried"
	TypeFailed    = "failed"
)

// JobEvent is the wire payload for one lifecycle transition.
type JobEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Attempt   int       `json:"attempt"`
	Cause     string    `json:"cause,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits job lifecycle events. The zero-value NopPublisher is used
// when events are disabled.
type Publisher interface {
	Publish(event JobEvent)
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(JobEvent) {}
func (NopPublisher) Close() error     { return nil }

// NATSPublisher publishes events to a JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS and prepares the JetStream context.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("NATS event publisher initialized", slog.String("url", url), slog.String("subject", subject))
	return &NATSPublisher{conn: conn, js: js, subject: subject}, nil
}

// Publish emits one event. Failures are logged, never propagated: losing an
// event must not fail the job.
func (p *NATSPublisher) Publish(event JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal job event", slog.String("error", err.Error()))
		return
	}

	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		slog.Warn("publish job event failed",
			slog.String("job.id", event.JobID),
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		return
	}

	slog.Debug("published job event", slog.String("job.id", event.JobID), slog.String("type", event.Type))
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}
