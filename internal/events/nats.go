package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamName    = "ORCHESTRATOR"
	subjectPrefix = "orchestrator."
)

// NATSPublisher publishes orchestration events to a JetStream stream so
// dashboards and other collaborators can consume them.
type NATSPublisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSPublisher creates the publisher and ensures the event stream exists
func NewNATSPublisher(js nats.JetStreamContext, logger *zap.Logger) (*NATSPublisher, error) {
	_, err := js.StreamInfo(streamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subjectPrefix + "*"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSPublisher{
		logger: logger.Named("event-publisher"),
		js:     js,
	}, nil
}

// Publish implements Publisher. Failures are logged and returned but never
// block or abort the operation that produced the event.
func (p *NATSPublisher) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subjectPrefix+string(event.Kind), data); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
