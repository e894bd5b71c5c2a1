// Package transport defines the push-channel abstraction the sync core
// runs on: a persistent duplex connection carrying topic-addressed JSON
// frames, plus the credential contract used to authenticate it.
package transport

import (
	"context"
	"errors"
)

// TokenProvider supplies the current bearer credential on demand.
// The credential is attached at dial time; a token rotation requires a
// reconnect.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to the TokenProvider interface.
type TokenProviderFunc func(ctx context.Context) (string, error)

func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken returns a TokenProvider that always yields the same token.
func StaticToken(token string) TokenProvider {
	return TokenProviderFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

// ErrNotConnected is returned by Subscribe, Unsubscribe and Publish when
// no connection is established.
var ErrNotConnected = errors.New("transport: not connected")

// Handler processes a single inbound frame delivered on a subscribed topic.
type Handler func(ctx context.Context, topic string, payload []byte)

// PushTransport is the duplex connection shared by all groups. Dial and
// Close are owned by the connection manager; Subscribe and Unsubscribe
// are issued only by the subscription registry; Publish is used by the
// delivery coordinator.
type PushTransport interface {
	// Dial establishes the connection and blocks until the server
	// acknowledges authentication, the context is canceled, or the
	// attempt fails.
	Dial(ctx context.Context) error

	// Close tears the connection down intentionally. Closed does not
	// fire for an intentional close.
	Close(ctx context.Context) error

	// Subscribe registers a handler for a topic and returns an opaque
	// handle. Handles become invalid when the connection drops.
	Subscribe(ctx context.Context, topic string, h Handler) (handle string, err error)

	// Unsubscribe removes the subscription identified by handle.
	Unsubscribe(ctx context.Context, handle string) error

	// Publish sends a payload to a server-side destination. Any
	// transport-reported error means the frame may not have been
	// delivered.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Closed delivers exactly one error per established connection when
	// it is lost unintentionally (socket close, heartbeat timeout).
	Closed() <-chan error
}
