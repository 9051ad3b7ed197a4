package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

type EventType string

const (
	EventViewerJoined EventType = "viewer.joined"
	EventViewerLeft   EventType = "viewer.left"
	EventServerHealth EventType = "server.health"
	EventServerLeft   EventType = "server.left"
)

const ControlChannel = "live:control"

func StreamChannel(id domain.StreamID) string {
	return "stream:" + string(id) + ":events"
}

func HealthChannel(serverID string) string {
	return "server:" + serverID + ":health"
}

// Event is the envelope carried on every coordination channel.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	StreamID   domain.StreamID `json:"stream_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus publishes and receives Events over the shared pub/sub surface.
type EventBus struct {
	state      ports.SharedState
	instanceID string
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewEventBus(state ports.SharedState, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		state:      state,
		instanceID: instanceID,
		logger:     logger,
		now:        time.Now,
	}
}

func (eb *EventBus) Publish(ctx context.Context, channel string, eventType EventType, streamID domain.StreamID, payload any) error {
	event := Event{
		Type:       eventType,
		InstanceID: eb.instanceID,
		Timestamp:  eb.now(),
		StreamID:   streamID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		event.Payload = raw
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.state.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"channel", channel,
		"type", eventType,
		"stream_id", streamID,
	)
	return nil
}

// Subscribe blocks delivering events from other instances to handler.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(channel string, event *Event) error, patterns ...string) error {
	return eb.state.Subscribe(ctx, func(channel string, payload []byte) {
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			eb.logger.Warnw("failed to unmarshal event",
				"channel", channel,
				"error", err,
			)
			return
		}

		if event.InstanceID == eb.instanceID {
			return
		}

		if err := handler(channel, &event); err != nil {
			eb.logger.Warnw("error handling event",
				"channel", channel,
				"type", event.Type,
				"error", err,
			)
		}
	}, patterns...)
}
