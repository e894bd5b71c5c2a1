// Package delivery sends outgoing messages and typing/presence updates
// via the push channel, falling back to the REST surface when the push
// channel is unavailable or fails, and reconciles optimistic local state
// with server-confirmed state.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/subscription"
	"github.com/squadbets/realtime/internal/transport"
)

// DefaultConfirmTimeout is how long a push-path send waits for the
// server's echo before falling back to the REST surface.
const DefaultConfirmTimeout = 10 * time.Second

// ErrSendFailed is wrapped into the error returned when both the push
// path and the fallback path fail for a message send.
var ErrSendFailed = errors.New("delivery: send failed on both paths")

// Fallback is the REST surface the coordinator falls back to. The
// create call carries the clientTempId so the backend can deduplicate a
// fallback racing a push send that was delivered after all.
type Fallback interface {
	CreateMessage(ctx context.Context, groupID int64, content string, parentMessageID *int64, clientTempID string) (domain.Message, error)
	EditMessage(ctx context.Context, messageID int64, content string) (domain.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

// Store is the reconciler surface the coordinator feeds.
type Store interface {
	InsertOptimistic(p domain.PendingSend)
	ConfirmOptimistic(clientTempID string, m domain.Message)
	FailOptimistic(clientTempID string)
	Ingest(ev domain.MessageEvent)
}

// Coordinator owns the two write paths. It never deduplicates itself;
// converging both paths to one visible message is the reconciler's job.
type Coordinator struct {
	state     func() domain.ConnectionState
	transport transport.PushTransport
	fallback  Fallback
	store     Store
	logger    *slog.Logger

	selfDisplayName string
	confirmTimeout  time.Duration

	tempCounter atomic.Int64

	mu      sync.Mutex
	waiters map[string]chan domain.Message
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfirmTimeout overrides the push-echo wait before falling back.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.confirmTimeout = d }
}

// NewCoordinator creates a coordinator. state reports the connection
// manager's current state; selfDisplayName labels optimistic entries.
func NewCoordinator(state func() domain.ConnectionState, t transport.PushTransport, fb Fallback, store Store, selfDisplayName string, opts ...Option) *Coordinator {
	c := &Coordinator{
		state:           state,
		transport:       t,
		fallback:        fb,
		store:           store,
		logger:          slog.Default().With("component", "delivery_coordinator"),
		selfDisplayName: selfDisplayName,
		confirmTimeout:  DefaultConfirmTimeout,
		waiters:         make(map[string]chan domain.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start listens for the server's echoes of our own sends so in-flight
// SendMessage calls can resolve with the authoritative entity.
func (c *Coordinator) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTyped(ctx, sub, subscription.MessageEvents,
		func(ctx context.Context, ev domain.MessageEvent) error {
			if ev.Kind != domain.MessageEventNew || ev.ClientTempID == "" || ev.Message == nil {
				return nil
			}
			c.resolveWaiter(ev.ClientTempID, *ev.Message)
			return nil
		})
}

// SendMessage delivers a message. The optimistic entry is visible
// immediately; the call returns the authoritative message from whichever
// path succeeded, or an error after both paths failed (the entry is then
// marked failed, never silently dropped). The call resolves even if the
// consumer has navigated away from the group, since the message may have
// already been delivered.
func (c *Coordinator) SendMessage(ctx context.Context, groupID int64, content string, parentMessageID *int64) (domain.Message, error) {
	pending := domain.PendingSend{
		ClientTempID:      uuid.NewString(),
		TempMessageID:     c.nextTempID(),
		GroupID:           groupID,
		SenderDisplayName: c.selfDisplayName,
		Content:           content,
		ParentMessageID:   parentMessageID,
		Deadline:          time.Now().Add(c.confirmTimeout),
	}
	c.store.InsertOptimistic(pending)

	var pushErr error
	if c.state() == domain.StateConnected {
		msg, confirmed, err := c.pushSend(ctx, pending)
		if confirmed {
			return msg, nil
		}
		pushErr = err
	}

	msg, err := c.fallback.CreateMessage(ctx, groupID, content, parentMessageID, pending.ClientTempID)
	if err != nil {
		c.store.FailOptimistic(pending.ClientTempID)
		if pushErr != nil {
			return domain.Message{}, fmt.Errorf("%w: push: %v, fallback: %v", ErrSendFailed, pushErr, err)
		}
		return domain.Message{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.store.ConfirmOptimistic(pending.ClientTempID, msg)
	return msg, nil
}

// pushSend publishes on the push channel and waits for the echo. The
// confirmed flag is false when the caller should fall back.
func (c *Coordinator) pushSend(ctx context.Context, pending domain.PendingSend) (domain.Message, bool, error) {
	payload, err := json.Marshal(transport.SendPayload{
		Action:          "create",
		Content:         pending.Content,
		ParentMessageID: pending.ParentMessageID,
		ClientTempID:    pending.ClientTempID,
	})
	if err != nil {
		return domain.Message{}, false, err
	}

	ch := c.addWaiter(pending.ClientTempID)
	defer c.removeWaiter(pending.ClientTempID)

	if err := c.transport.Publish(ctx, transport.GroupSendTopic(pending.GroupID), payload); err != nil {
		return domain.Message{}, false, err
	}

	select {
	case msg := <-ch:
		return msg, true, nil
	case <-time.After(time.Until(pending.Deadline)):
		return domain.Message{}, false, fmt.Errorf("no confirmation within %s", c.confirmTimeout)
	case <-ctx.Done():
		return domain.Message{}, false, ctx.Err()
	}
}

// EditMessage replaces a message's content, push first with REST
// fallback. The store converges via the EDIT event on either path.
func (c *Coordinator) EditMessage(ctx context.Context, groupID, messageID int64, content string) error {
	var pushErr error
	if c.state() == domain.StateConnected {
		payload, err := json.Marshal(transport.SendPayload{
			Action:    "edit",
			MessageID: messageID,
			Content:   content,
		})
		if err != nil {
			return err
		}
		if pushErr = c.transport.Publish(ctx, transport.GroupSendTopic(groupID), payload); pushErr == nil {
			return nil
		}
	}

	msg, err := c.fallback.EditMessage(ctx, messageID, content)
	if err != nil {
		if pushErr != nil {
			return fmt.Errorf("edit message %d: push: %v, fallback: %w", messageID, pushErr, err)
		}
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}

	c.store.Ingest(domain.MessageEvent{
		Kind:    domain.MessageEventEdit,
		GroupID: groupID,
		Message: &msg,
	})
	return nil
}

// DeleteMessage removes a message, push first with REST fallback.
func (c *Coordinator) DeleteMessage(ctx context.Context, groupID, messageID int64) error {
	var pushErr error
	if c.state() == domain.StateConnected {
		payload, err := json.Marshal(transport.SendPayload{
			Action:    "delete",
			MessageID: messageID,
		})
		if err != nil {
			return err
		}
		if pushErr = c.transport.Publish(ctx, transport.GroupSendTopic(groupID), payload); pushErr == nil {
			return nil
		}
	}

	if err := c.fallback.DeleteMessage(ctx, messageID); err != nil {
		if pushErr != nil {
			return fmt.Errorf("delete message %d: push: %v, fallback: %w", messageID, pushErr, err)
		}
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}

	c.store.Ingest(domain.MessageEvent{
		Kind:      domain.MessageEventDelete,
		GroupID:   groupID,
		MessageID: messageID,
	})
	return nil
}

// SetTyping publishes the local user's typing state. Failures are
// logged and swallowed: typing is non-critical, gets no fallback, and is
// never surfaced to the caller.
func (c *Coordinator) SetTyping(ctx context.Context, groupID int64, isTyping bool) {
	if c.state() != domain.StateConnected {
		return
	}
	payload, err := json.Marshal(transport.TypingSetPayload{IsTyping: isTyping})
	if err != nil {
		return
	}
	if err := c.transport.Publish(ctx, transport.GroupTypingSetTopic(groupID), payload); err != nil {
		c.logger.Debug("Dropping typing update", "group_id", groupID, "error", err)
	}
}

// SetPresence publishes the local user's presence status. Same
// non-critical semantics as SetTyping.
func (c *Coordinator) SetPresence(ctx context.Context, status domain.PresenceStatus) {
	if c.state() != domain.StateConnected {
		return
	}
	payload, err := json.Marshal(transport.PresenceSetPayload{Status: string(status)})
	if err != nil {
		return
	}
	if err := c.transport.Publish(ctx, transport.PresenceSetTopic(), payload); err != nil {
		c.logger.Debug("Dropping presence update", "status", status, "error", err)
	}
}

func (c *Coordinator) nextTempID() int64 {
	return -c.tempCounter.Add(1)
}

func (c *Coordinator) addWaiter(clientTempID string) chan domain.Message {
	ch := make(chan domain.Message, 1)
	c.mu.Lock()
	c.waiters[clientTempID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Coordinator) removeWaiter(clientTempID string) {
	c.mu.Lock()
	delete(c.waiters, clientTempID)
	c.mu.Unlock()
}

func (c *Coordinator) resolveWaiter(clientTempID string, msg domain.Message) {
	c.mu.Lock()
	ch, ok := c.waiters[clientTempID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
	}
}
