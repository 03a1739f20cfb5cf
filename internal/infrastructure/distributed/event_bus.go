package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sfulink/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventDesiredStreams EventType = "streams.desired"
	EventNotification   EventType = "session.notification"
)

// Event represents a distributed event
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	StreamID   domain.StreamID `json:"stream_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus publishes and consumes events on a redis pub/sub channel shared
// by every instance attached to the same meeting.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, prefix, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if prefix == "" {
		prefix = "sfulink"
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    prefix + ":events",
		logger:     logger,
	}
}

// Channel returns the pub/sub channel name
func (eb *EventBus) Channel() string {
	return eb.channel
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_id", event.StreamID,
	)

	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", eb.channel)
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	event, err := eb.decode(payload)
	if err != nil {
		eb.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", payload,
		)
		return
	}
	if event == nil {
		return
	}

	if err := handler(event); err != nil {
		eb.logger.Warnw("error handling event",
			"type", event.Type,
			"error", err,
		)
	}
}

// decode returns nil for events published by this instance.
func (eb *EventBus) decode(payload string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.InstanceID == eb.instanceID {
		return nil, nil
	}
	return &event, nil
}

// Notify publishes a session notification. It implements ports.Notifier;
// publish errors are logged.
func (eb *EventBus) Notify(ctx context.Context, n domain.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		eb.logger.Warnw("failed to marshal notification", "error", err)
		return
	}
	if err := eb.Publish(ctx, &Event{
		Type:     EventNotification,
		StreamID: n.StreamID,
		Payload:  payload,
	}); err != nil {
		eb.logger.Warnw("failed to publish notification", "stream_id", n.StreamID, "error", err)
	}
}
