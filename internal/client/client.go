// Package client is the composition root of the sync core. It wires the
// connection manager, subscription registry, delivery coordinator, and
// the reconciliation/aggregation stores over the internal event bus, and
// exposes the surface a consuming UI talks to.
//
// A Client is explicitly constructed and carries its own lifecycle, so
// tests can run independent instances side by side; there is no package
// level singleton.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/squadbets/realtime/internal/config"
	"github.com/squadbets/realtime/internal/connection"
	"github.com/squadbets/realtime/internal/delivery"
	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/presence"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/reconcile"
	"github.com/squadbets/realtime/internal/rest"
	"github.com/squadbets/realtime/internal/subscription"
	"github.com/squadbets/realtime/internal/transport"
	"github.com/squadbets/realtime/internal/typing"
)

// DefaultHydrationLimit is how many recent messages are fetched over the
// fallback surface when joining a group.
const DefaultHydrationLimit = 50

// ErrDisposed is returned by operations on a disposed client.
var ErrDisposed = errors.New("client: disposed")

// Client is one instance of the sync core.
type Client struct {
	bus         pubsub.Bus
	transport   transport.PushTransport
	clientID    string
	manager     *connection.Manager
	registry    *subscription.Registry
	reconciler  *reconcile.Reconciler
	typing      *typing.Aggregator
	presence    *presence.Tracker
	coordinator *delivery.Coordinator
	restClient  delivery.Fallback
	hydrator    hydrator
	logger      *slog.Logger

	hydrationLimit int
	tracingCleanup func()

	mu       sync.Mutex
	initDone bool
	disposed bool
	cancel   context.CancelFunc
}

// hydrator is the slice of the fallback surface used to seed a group's
// recent window.
type hydrator interface {
	ListRecent(ctx context.Context, groupID int64, limit int) ([]domain.Message, error)
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	bus             pubsub.Bus
	transport       transport.PushTransport
	clientID        string
	fallback        delivery.Fallback
	hydrator        hydrator
	hydrationLimit  int
	connectionOpts  []connection.Option
	deliveryOpts    []delivery.Option
	reconcilerOpts  []reconcile.Option
	typingOpts      []typing.Option
	transportOpts   []transport.WebSocketOption
}

// WithBus replaces the internal event bus.
func WithBus(bus pubsub.Bus) Option {
	return func(o *clientOptions) { o.bus = bus }
}

// WithTransport injects a pre-built transport. clientID addresses the
// personal error queue.
func WithTransport(t transport.PushTransport, clientID string) Option {
	return func(o *clientOptions) {
		o.transport = t
		o.clientID = clientID
	}
}

// WithFallback injects a fallback surface, replacing the REST client
// built from the configuration. The injected value is also used for
// hydration when it implements ListRecent.
func WithFallback(fb delivery.Fallback) Option {
	return func(o *clientOptions) {
		o.fallback = fb
		if h, ok := fb.(hydrator); ok {
			o.hydrator = h
		}
	}
}

// WithHydrationLimit overrides how many recent messages seed a joined
// group. Zero disables hydration.
func WithHydrationLimit(n int) Option {
	return func(o *clientOptions) { o.hydrationLimit = n }
}

// WithConnectionOptions forwards options to the connection manager.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(o *clientOptions) { o.connectionOpts = append(o.connectionOpts, opts...) }
}

// WithDeliveryOptions forwards options to the delivery coordinator.
func WithDeliveryOptions(opts ...delivery.Option) Option {
	return func(o *clientOptions) { o.deliveryOpts = append(o.deliveryOpts, opts...) }
}

// WithReconcilerOptions forwards options to the message reconciler.
func WithReconcilerOptions(opts ...reconcile.Option) Option {
	return func(o *clientOptions) { o.reconcilerOpts = append(o.reconcilerOpts, opts...) }
}

// WithTypingOptions forwards options to the typing aggregator.
func WithTypingOptions(opts ...typing.Option) Option {
	return func(o *clientOptions) { o.typingOpts = append(o.typingOpts, opts...) }
}

// WithTransportOptions forwards options to the WebSocket transport built
// from the configuration. Ignored when WithTransport injects one.
func WithTransportOptions(opts ...transport.WebSocketOption) Option {
	return func(o *clientOptions) { o.transportOpts = append(o.transportOpts, opts...) }
}

// New builds a client from configuration and a token provider.
func New(cfg *config.Config, tokens transport.TokenProvider, opts ...Option) *Client {
	o := &clientOptions{
		hydrationLimit: DefaultHydrationLimit,
	}
	for _, opt := range opts {
		opt(o)
	}

	var tracingCleanup func()
	if o.bus == nil {
		bus := pubsub.Bus(pubsub.NewGoChannelBus())
		tcfg := pubsub.LoadTracingConfigFromEnv()
		if tracer, cleanup, err := pubsub.SetupOTel(context.Background(), tcfg); err != nil {
			slog.Warn("Bus tracing disabled", "error", err)
		} else {
			bus = pubsub.NewTracedBus(bus, tracer)
			tracingCleanup = cleanup
		}
		o.bus = bus
	}
	if o.transport == nil {
		wst := transport.NewWebSocketTransport(cfg.WebSocketURL, tokens, o.transportOpts...)
		o.transport = wst
		o.clientID = wst.ClientID()
	}
	if o.fallback == nil {
		rc := rest.NewClient(cfg.APIBaseURL, tokens)
		o.fallback = rc
		o.hydrator = rc
	}

	if cfg.ConnectTimeout > 0 {
		o.connectionOpts = append(o.connectionOpts, connection.WithConnectTimeout(cfg.ConnectTimeout))
	}

	manager := connection.NewManager(o.transport, o.bus, o.connectionOpts...)
	reconciler := reconcile.NewReconciler(o.reconcilerOpts...)

	c := &Client{
		bus:            o.bus,
		transport:      o.transport,
		clientID:       o.clientID,
		manager:        manager,
		registry:       subscription.NewRegistry(o.transport, o.bus, o.clientID),
		reconciler:     reconciler,
		typing:         typing.NewAggregator(cfg.Username, o.typingOpts...),
		presence:       presence.NewTracker(),
		coordinator:    delivery.NewCoordinator(manager.State, o.transport, o.fallback, reconciler, cfg.DisplayName, o.deliveryOpts...),
		restClient:     o.fallback,
		hydrator:       o.hydrator,
		logger:         slog.Default().With("component", "sync_client"),
		hydrationLimit: o.hydrationLimit,
		tracingCleanup: tracingCleanup,
	}
	return c
}

// Init wires all components over the bus. It must be called exactly once
// before Connect.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.initDone {
		return nil
	}

	busCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	starters := []func(context.Context, pubsub.Subscriber) error{
		c.registry.Start,
		c.reconciler.Start,
		c.typing.Start,
		c.presence.Start,
		c.coordinator.Start,
	}
	for _, start := range starters {
		if err := start(busCtx, c.bus); err != nil {
			cancel()
			return fmt.Errorf("wire components: %w", err)
		}
	}

	c.initDone = true
	return nil
}

// Dispose tears the client down: disconnects, ends every bus
// subscription, and closes the bus. The client cannot be reused.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.registry.Reset()
	if err := c.manager.Disconnect(context.Background()); err != nil {
		c.logger.Warn("Disconnect during dispose failed", "error", err)
	}
	if cancel != nil {
		cancel()
	}
	if err := c.bus.Close(); err != nil {
		c.logger.Warn("Bus close during dispose failed", "error", err)
	}
	if c.tracingCleanup != nil {
		c.tracingCleanup()
	}
}

// Connect establishes the push channel.
func (c *Client) Connect(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.manager.Connect(ctx)
}

// Disconnect tears the connection down and clears all subscriptions.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	c.registry.Reset()
	return c.manager.Disconnect(ctx)
}

// State returns the current connection state.
func (c *Client) State() domain.ConnectionState {
	return c.manager.State()
}

// JoinGroup subscribes the group's channels (queued until the connection
// is ready if necessary) and seeds the recent window from the fallback
// surface in the background.
func (c *Client) JoinGroup(ctx context.Context, groupID int64) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	c.registry.SubscribeGroup(ctx, groupID)

	if c.hydrator != nil && c.hydrationLimit > 0 {
		go c.hydrate(groupID)
	}
	return nil
}

// LeaveGroup unsubscribes the group's channels without blocking the
// switch. The group's message window is retained so a still-pending send
// can resolve; typing state is dropped immediately.
func (c *Client) LeaveGroup(ctx context.Context, groupID int64) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	c.registry.UnsubscribeGroup(ctx, groupID)
	c.typing.ClearGroup(groupID)
	return nil
}

// SendMessage delivers a message and returns the server-assigned entity.
func (c *Client) SendMessage(ctx context.Context, groupID int64, content string, parentMessageID *int64) (domain.Message, error) {
	if c.isDisposed() {
		return domain.Message{}, ErrDisposed
	}
	return c.coordinator.SendMessage(ctx, groupID, content, parentMessageID)
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, groupID, messageID int64, content string) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.coordinator.EditMessage(ctx, groupID, messageID, content)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, groupID, messageID int64) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.coordinator.DeleteMessage(ctx, groupID, messageID)
}

// SetTyping publishes the local user's typing state. Failures are never
// surfaced.
func (c *Client) SetTyping(ctx context.Context, groupID int64, isTyping bool) {
	c.coordinator.SetTyping(ctx, groupID, isTyping)
}

// SetPresence publishes the local user's presence status. Failures are
// never surfaced.
func (c *Client) SetPresence(ctx context.Context, status domain.PresenceStatus) {
	c.coordinator.SetPresence(ctx, status)
}

// Messages returns the group's reconciled sequence.
func (c *Client) Messages(groupID int64) []reconcile.Entry {
	return c.reconciler.Messages(groupID)
}

// TypingUsers returns who is currently typing in the group.
func (c *Client) TypingUsers(groupID int64) []string {
	return c.typing.TypingUsers(groupID)
}

// Presence returns a user's last-known presence.
func (c *Client) Presence(username string) domain.UserPresence {
	return c.presence.Presence(username)
}

// OnStateChange registers an independent subscriber for connection state
// transitions. The subscription ends when ctx is canceled.
func (c *Client) OnStateChange(ctx context.Context, fn func(domain.StateChange)) error {
	return pubsub.SubscribeTyped(ctx, c.bus, connection.StateChanges,
		func(ctx context.Context, change domain.StateChange) error {
			fn(change)
			return nil
		})
}

// OnMessageEvent registers an independent subscriber for inbound message
// events.
func (c *Client) OnMessageEvent(ctx context.Context, fn func(domain.MessageEvent)) error {
	return pubsub.SubscribeTyped(ctx, c.bus, subscription.MessageEvents,
		func(ctx context.Context, ev domain.MessageEvent) error {
			fn(ev)
			return nil
		})
}

// OnServerError registers a handler for protocol errors from the
// personal error queue. The payload is forwarded verbatim; the core does
// not interpret it.
func (c *Client) OnServerError(ctx context.Context, fn func(domain.ServerError)) error {
	return pubsub.SubscribeTyped(ctx, c.bus, subscription.ServerErrors,
		func(ctx context.Context, serr domain.ServerError) error {
			fn(serr)
			return nil
		})
}

func (c *Client) hydrate(groupID int64) {
	msgs, err := c.hydrator.ListRecent(context.Background(), groupID, c.hydrationLimit)
	if err != nil {
		c.logger.Warn("Recent window hydration failed", "group_id", groupID, "error", err)
		return
	}
	for i := range msgs {
		c.reconciler.Ingest(domain.MessageEvent{
			Kind:    domain.MessageEventNew,
			GroupID: groupID,
			Message: &msgs[i],
		})
	}
}

func (c *Client) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
