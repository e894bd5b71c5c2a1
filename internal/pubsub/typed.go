package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event[T] binds a topic name to a payload type so publishing and
// subscribing stay type-checked at the call site. It replaces the
// overwritable callback-bag pattern: any number of independent
// subscribers can listen on the same event, and each unsubscribes by
// canceling its own context.
type Event[T any] struct {
	topicName   string
	description string
}

// NewEvent declares a typed event. Events are usually defined as
// package-level vars by the component that owns the topic.
func NewEvent[T any](name string, description string) Event[T] {
	return Event[T]{
		topicName:   name,
		description: description,
	}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Description returns the human-readable purpose of the event.
func (e Event[T]) Description() string {
	return e.description
}

// Publish sends a typed event. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		Payload: data,
	})
}

// SubscribeTyped registers a handler that receives decoded payloads.
// Messages that fail to decode are logged by the bus and skipped.
func SubscribeTyped[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s event: %w", event.Name(), err)
		}
		return handler(ctx, payload)
	})
}
