// Package testutils provides shared fakes for exercising the sync core
// without a real backend.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/squadbets/realtime/internal/transport"
)

// PublishRecord captures one Publish call on the fake transport.
type PublishRecord struct {
	Topic   string
	Payload []byte
}

// SubscribeRecord captures one Subscribe call on the fake transport.
type SubscribeRecord struct {
	Topic  string
	Handle string
}

// FakeTransport implements transport.PushTransport with scriptable
// failures and hooks for delivering inbound frames.
type FakeTransport struct {
	mu sync.Mutex

	// DialErrs is consumed one entry per Dial call; a nil entry (or an
	// exhausted slice) means the dial succeeds.
	DialErrs []error
	// DialBlock, when set, makes every Dial wait until the channel is
	// closed or the context expires.
	DialBlock chan struct{}
	// PublishErr fails every Publish call when set.
	PublishErr error
	// SubscribeErr fails every Subscribe call when set.
	SubscribeErr error
	// SubscribeBlock, when set, makes every Subscribe wait until the
	// channel is closed or the context expires.
	SubscribeBlock chan struct{}

	dials        int
	connected    bool
	closed       chan error
	handles      int
	handlers     map[string]transport.Handler
	topics       map[string]string
	subscribes   []SubscribeRecord
	unsubscribes []string
	publishes    []PublishRecord
}

// NewFakeTransport returns a disconnected fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		handlers: make(map[string]transport.Handler),
		topics:   make(map[string]string),
	}
}

func (f *FakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	idx := f.dials
	f.dials++
	block := f.DialBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if idx < len(f.DialErrs) && f.DialErrs[idx] != nil {
		return f.DialErrs[idx]
	}

	f.connected = true
	f.closed = make(chan error, 1)
	f.handlers = make(map[string]transport.Handler)
	f.topics = make(map[string]string)
	return nil
}

func (f *FakeTransport) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.handlers = make(map[string]transport.Handler)
	f.topics = make(map[string]string)
	return nil
}

func (f *FakeTransport) Subscribe(ctx context.Context, topic string, h transport.Handler) (string, error) {
	f.mu.Lock()
	block := f.SubscribeBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return "", transport.ErrNotConnected
	}
	if f.SubscribeErr != nil {
		return "", f.SubscribeErr
	}

	f.handles++
	handle := fmt.Sprintf("handle-%d", f.handles)
	f.handlers[handle] = h
	f.topics[handle] = topic
	f.subscribes = append(f.subscribes, SubscribeRecord{Topic: topic, Handle: handle})
	return handle, nil
}

func (f *FakeTransport) Unsubscribe(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, handle)
	delete(f.topics, handle)
	f.unsubscribes = append(f.unsubscribes, handle)
	return nil
}

func (f *FakeTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.publishes = append(f.publishes, PublishRecord{Topic: topic, Payload: payload})
	return nil
}

func (f *FakeTransport) Closed() <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == nil {
		f.closed = make(chan error, 1)
	}
	return f.closed
}

// DropConnection simulates an unintentional connection loss.
func (f *FakeTransport) DropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	closed := f.closed
	f.handlers = make(map[string]transport.Handler)
	f.topics = make(map[string]string)
	f.mu.Unlock()

	if closed != nil {
		select {
		case closed <- err:
		default:
		}
	}
}

// Deliver invokes every handler subscribed to the topic, simulating an
// inbound event frame.
func (f *FakeTransport) Deliver(ctx context.Context, topic string, payload []byte) {
	f.mu.Lock()
	var hs []transport.Handler
	for handle, t := range f.topics {
		if t == topic {
			hs = append(hs, f.handlers[handle])
		}
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(ctx, topic, payload)
	}
}

// DialCount reports how many Dial calls were made.
func (f *FakeTransport) DialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Connected reports whether the fake considers itself connected.
func (f *FakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Subscribes returns a copy of all recorded Subscribe calls.
func (f *FakeTransport) Subscribes() []SubscribeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SubscribeRecord, len(f.subscribes))
	copy(out, f.subscribes)
	return out
}

// Unsubscribes returns a copy of all recorded Unsubscribe handles.
func (f *FakeTransport) Unsubscribes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.unsubscribes))
	copy(out, f.unsubscribes)
	return out
}

// Publishes returns a copy of all recorded Publish calls.
func (f *FakeTransport) Publishes() []PublishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishRecord, len(f.publishes))
	copy(out, f.publishes)
	return out
}
