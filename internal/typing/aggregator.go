// Package typing converts inbound per-user typing events into an
// aggregated "who is typing" set with automatic expiry.
package typing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/subscription"
)

// DefaultTTL is how long a typing indicator lives without a refresh.
// It is deliberately longer than the sender-side 2s re-send interval so
// one dropped refresh does not cause a visible flicker.
const DefaultTTL = 3 * time.Second

// Aggregator maintains a (group, username) -> expiry map. Expired
// entries are swept lazily on read rather than by a dedicated timer, so
// an idle aggregator causes no wake-ups. Entries for users that
// disconnect without a stop event age out on their own.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[int64]map[string]time.Time

	ttl          time.Duration
	now          func() time.Time
	selfUsername string
	logger       *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTTL overrides the typing expiry window.
func WithTTL(d time.Duration) Option {
	return func(a *Aggregator) { a.ttl = d }
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator. selfUsername is always excluded
// from results, even if the server echoes the local user's own events.
func NewAggregator(selfUsername string, opts ...Option) *Aggregator {
	a := &Aggregator{
		entries:      make(map[int64]map[string]time.Time),
		ttl:          DefaultTTL,
		now:          time.Now,
		selfUsername: selfUsername,
		logger:       slog.Default().With("component", "typing_aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start routes inbound typing events from the bus into the aggregator.
func (a *Aggregator) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTyped(ctx, sub, subscription.TypingEvents,
		func(ctx context.Context, ev domain.TypingIndicator) error {
			a.OnTypingEvent(ev.GroupID, ev.Username, ev.IsTyping)
			return nil
		})
}

// OnTypingEvent sets or refreshes the user's expiry on a start event and
// removes the entry immediately on a stop event.
func (a *Aggregator) OnTypingEvent(groupID int64, username string, isTyping bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.entries[groupID]
	if !ok {
		if !isTyping {
			return
		}
		group = make(map[string]time.Time)
		a.entries[groupID] = group
	}

	if isTyping {
		group[username] = a.now().Add(a.ttl)
	} else {
		delete(group, username)
	}
}

// TypingUsers returns the users currently typing in the group, sorted,
// with expired entries evicted and the local user excluded.
func (a *Aggregator) TypingUsers(groupID int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.entries[groupID]
	if !ok {
		return nil
	}

	now := a.now()
	var users []string
	for username, expiry := range group {
		if !expiry.After(now) {
			delete(group, username)
			continue
		}
		if username == a.selfUsername {
			continue
		}
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// ClearGroup drops all typing state for a group.
func (a *Aggregator) ClearGroup(groupID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, groupID)
}
