package pubsub

import (
	"context"
)

// Message is the structure passed between components on the internal bus.
// It is intentionally simple and acts as a wrapper for raw event data.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "messages.events").
	Topic string
	// Payload contains the JSON-encoded event.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
// Multiple independent subscribers may listen on the same topic; each
// receives its own copy of every message. A subscription ends when the
// given context is canceled.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages
	// with the handler. It returns once the subscription is active.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus combines both sides of the event bus.
type Bus interface {
	Publisher
	Subscriber
}
