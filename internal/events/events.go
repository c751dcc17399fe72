// Package events publishes build lifecycle notifications to NATS so
// external consumers (search indexers, notification fan-out) can react
// without polling the API.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/docharbor/docharbor/internal/artifacts"
)

const (
	SubjectBuildTriggered = "builds.triggered"
	SubjectBuildFinished  = "builds.finished"
)

// BuildEvent is the wire payload for both subjects.
type BuildEvent struct {
	BuildID   string    `json:"build_id"`
	Project   string    `json:"project"`
	Version   string    `json:"version"`
	Commit    string    `json:"commit,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Outcome is the per-format result map, set on finished events so
	// artifact sync and search indexing know what to pick up.
	Outcome *artifacts.FormatOutcome `json:"outcome,omitempty"`
}

// Publisher emits build events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishTriggered(ev BuildEvent) error
	PublishFinished(ev BuildEvent) error
	Close() error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishTriggered(BuildEvent) error { return nil }
func (NoopPublisher) PublishFinished(BuildEvent) error  { return nil }
func (NoopPublisher) Close() error                      { return nil }

// NATSPublisher publishes build events over a core NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the broker at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS publisher initialized", "url", url)
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) publish(subject string, ev BuildEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	slog.Debug("Published build event",
		"subject", subject, "build_id", ev.BuildID, "project", ev.Project)
	return nil
}

func (p *NATSPublisher) PublishTriggered(ev BuildEvent) error {
	return p.publish(SubjectBuildTriggered, ev)
}

func (p *NATSPublisher) PublishFinished(ev BuildEvent) error {
	return p.publish(SubjectBuildFinished, ev)
}

// Close flushes pending events and drops the connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		_ = p.conn.Flush()
		p.conn.Close()
	}
	return nil
}
