// Package subscription tracks which per-group channels are subscribed on
// the push channel and re-establishes them after every reconnect. It is
// the only component that issues subscribe/unsubscribe calls against the
// transport, so no two registries can produce duplicate handles.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/squadbets/realtime/internal/connection"
	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/transport"
)

// Bus events carrying inbound push-channel traffic to the rest of the
// core. Events from one transport topic are republished in arrival order.
var (
	MessageEvents = pubsub.NewEvent[domain.MessageEvent](
		"messages.events",
		"Inbound message events (new, edit, delete) from any transport",
	)
	TypingEvents = pubsub.NewEvent[domain.TypingIndicator](
		"typing.events",
		"Inbound per-user typing events",
	)
	PresenceEvents = pubsub.NewEvent[domain.UserPresence](
		"presence.events",
		"Inbound user presence events",
	)
	ServerErrors = pubsub.NewEvent[domain.ServerError](
		"errors.server",
		"Protocol errors from the personal error queue, forwarded verbatim",
	)
)

// Channel kinds tracked per subscription key. MESSAGES and TYPING are
// group-scoped; PRESENCE and ERRORS are connection-scoped and live for
// the whole session.
const (
	keyPresence = "presence"
	keyErrors   = "errors"
)

func keyMessages(groupID int64) string { return fmt.Sprintf("messages/%d", groupID) }
func keyTyping(groupID int64) string   { return fmt.Sprintf("typing/%d", groupID) }

// Registry keeps the desired subscription set and maps it onto transport
// handles. The desired set survives reconnects; handles do not.
type Registry struct {
	transport transport.PushTransport
	publisher pubsub.Publisher
	clientID  string
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	desired   map[int64]struct{}
	handles   map[string]string // subscription key -> transport handle
	// pending marks keys with a subscribe call in flight, so two racing
	// paths (SubscribeGroup and the connected transition) never issue a
	// second subscribe for the same key.
	pending map[string]struct{}
	// epoch increments on every connection transition; a subscribe that
	// completes after its connection is gone is discarded.
	epoch uint64
}

// NewRegistry creates a registry bound to one transport. clientID
// addresses the personal error queue.
func NewRegistry(t transport.PushTransport, pub pubsub.Publisher, clientID string) *Registry {
	return &Registry{
		transport: t,
		publisher: pub,
		clientID:  clientID,
		logger:    slog.Default().With("component", "subscription_registry"),
		desired:   make(map[int64]struct{}),
		handles:   make(map[string]string),
		pending:   make(map[string]struct{}),
	}
}

// Start subscribes the registry to connection state changes so it can
// re-establish channels when the connection becomes ready.
func (r *Registry) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTyped(ctx, sub, connection.StateChanges, r.handleStateChange)
}

func (r *Registry) handleStateChange(ctx context.Context, change domain.StateChange) error {
	switch change.Current {
	case domain.StateConnected:
		r.mu.Lock()
		r.connected = true
		r.epoch++
		// Handles from the previous connection are invalid.
		r.handles = make(map[string]string)
		groups := make([]int64, 0, len(r.desired))
		for id := range r.desired {
			groups = append(groups, id)
		}
		r.mu.Unlock()

		r.ensureConnectionScoped(ctx)
		for _, id := range groups {
			r.ensureGroup(ctx, id)
		}
	case domain.StateDisconnected, domain.StateReconnecting:
		r.mu.Lock()
		r.connected = false
		r.epoch++
		r.handles = make(map[string]string)
		r.mu.Unlock()
	}
	return nil
}

// SubscribeGroup ensures the MESSAGES and TYPING channels are subscribed
// for the group. It is idempotent, and while the connection is not ready
// it only records the intent; the subscription is issued once the
// connected transition fires.
func (r *Registry) SubscribeGroup(ctx context.Context, groupID int64) {
	r.mu.Lock()
	r.desired[groupID] = struct{}{}
	connected := r.connected
	r.mu.Unlock()

	if connected {
		r.ensureGroup(ctx, groupID)
	}
}

// UnsubscribeGroup removes the group's channel subscriptions. The
// connection-scoped presence and error channels are not touched. The
// transport calls run in the background so a group switch never blocks.
func (r *Registry) UnsubscribeGroup(ctx context.Context, groupID int64) {
	r.mu.Lock()
	delete(r.desired, groupID)
	var handles []string
	for _, key := range []string{keyMessages(groupID), keyTyping(groupID)} {
		if h, ok := r.handles[key]; ok {
			handles = append(handles, h)
			delete(r.handles, key)
		}
	}
	r.mu.Unlock()

	go r.release(handles)
}

// Reset drops the whole desired set and every handle. Called on full
// disconnect, when all subscriptions are destroyed.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.desired = make(map[int64]struct{})
	var handles []string
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]string)
	r.mu.Unlock()

	go r.release(handles)
}

// ActiveGroups returns the desired group set, for observability.
func (r *Registry) ActiveGroups() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.desired))
	for id := range r.desired {
		out = append(out, id)
	}
	return out
}

func (r *Registry) release(handles []string) {
	for _, h := range handles {
		if err := r.transport.Unsubscribe(context.Background(), h); err != nil {
			r.logger.Warn("Failed to unsubscribe handle", "handle", h, "error", err)
		}
	}
}

// ensure issues a subscribe call for the key unless one is already held
// or in flight. A failed subscribe is logged and left absent; the next
// reconnect cycle retries it.
func (r *Registry) ensure(ctx context.Context, key, topic string, h transport.Handler) {
	r.mu.Lock()
	if _, ok := r.handles[key]; ok {
		r.mu.Unlock()
		return
	}
	if _, ok := r.pending[key]; ok {
		r.mu.Unlock()
		return
	}
	r.pending[key] = struct{}{}
	epoch := r.epoch
	r.mu.Unlock()

	handle, err := r.transport.Subscribe(ctx, topic, h)

	r.mu.Lock()
	delete(r.pending, key)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("Subscribe failed", "topic", topic, "error", err)
		return
	}
	if r.epoch != epoch {
		// The connection changed under us; this handle belongs to a
		// dead connection.
		r.mu.Unlock()
		go r.release([]string{handle})
		return
	}
	r.handles[key] = handle
	r.mu.Unlock()
	r.logger.Debug("Subscribed", "topic", topic, "handle", handle)
}

func (r *Registry) ensureGroup(ctx context.Context, groupID int64) {
	r.ensure(ctx, keyMessages(groupID), transport.GroupMessagesTopic(groupID), r.messageHandler(groupID))
	r.ensure(ctx, keyTyping(groupID), transport.GroupTypingTopic(groupID), r.typingHandler(groupID))
}

func (r *Registry) ensureConnectionScoped(ctx context.Context) {
	r.ensure(ctx, keyPresence, transport.PresenceTopic(), r.presenceHandler())
	r.ensure(ctx, keyErrors, transport.ErrorsTopic(r.clientID), r.errorHandler())
}

func (r *Registry) messageHandler(groupID int64) transport.Handler {
	return func(ctx context.Context, topic string, payload []byte) {
		var ev domain.MessageEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Warn("Dropping malformed message event", "topic", topic, "error", err)
			return
		}
		ev.GroupID = groupID
		if err := pubsub.Publish(ctx, r.publisher, MessageEvents, ev); err != nil {
			r.logger.Error("Failed to publish message event", "error", err)
		}
	}
}

func (r *Registry) typingHandler(groupID int64) transport.Handler {
	return func(ctx context.Context, topic string, payload []byte) {
		var ev domain.TypingIndicator
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Warn("Dropping malformed typing event", "topic", topic, "error", err)
			return
		}
		ev.GroupID = groupID
		if err := pubsub.Publish(ctx, r.publisher, TypingEvents, ev); err != nil {
			r.logger.Error("Failed to publish typing event", "error", err)
		}
	}
}

func (r *Registry) presenceHandler() transport.Handler {
	return func(ctx context.Context, topic string, payload []byte) {
		var ev domain.UserPresence
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Warn("Dropping malformed presence event", "error", err)
			return
		}
		if err := pubsub.Publish(ctx, r.publisher, PresenceEvents, ev); err != nil {
			r.logger.Error("Failed to publish presence event", "error", err)
		}
	}
}

func (r *Registry) errorHandler() transport.Handler {
	return func(ctx context.Context, topic string, payload []byte) {
		var ev domain.ServerError
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Warn("Dropping malformed server error", "error", err)
			return
		}
		if err := pubsub.Publish(ctx, r.publisher, ServerErrors, ev); err != nil {
			r.logger.Error("Failed to forward server error", "error", err)
		}
	}
}
