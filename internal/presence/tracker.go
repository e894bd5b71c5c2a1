// Package presence records last-known online/away/offline status per
// user from inbound presence events.
package presence

import (
	"context"
	"log/slog"
	"sync"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/subscription"
)

// Tracker is a last-write-wins store keyed by event receipt order, not
// by event timestamp: the backend nodes share no clock, so the most
// recently delivered event is authoritative.
type Tracker struct {
	mu        sync.RWMutex
	presences map[string]domain.UserPresence
	logger    *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		presences: make(map[string]domain.UserPresence),
		logger:    slog.Default().With("component", "presence_tracker"),
	}
}

// Start routes inbound presence events from the bus into the tracker.
func (t *Tracker) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTyped(ctx, sub, subscription.PresenceEvents,
		func(ctx context.Context, ev domain.UserPresence) error {
			t.OnPresenceEvent(ev)
			return nil
		})
}

// OnPresenceEvent records the user's latest status.
func (t *Tracker) OnPresenceEvent(ev domain.UserPresence) {
	if ev.Username == "" {
		t.logger.Warn("Dropping presence event without username")
		return
	}
	t.mu.Lock()
	t.presences[ev.Username] = ev
	t.mu.Unlock()
}

// Presence returns the user's last-known state. A user that never
// produced a presence event is reported as unknown, which is distinct
// from offline.
func (t *Tracker) Presence(username string) domain.UserPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.presences[username]; ok {
		return p
	}
	return domain.UserPresence{
		Username: username,
		Status:   domain.PresenceUnknown,
	}
}

// All returns a snapshot of every known presence.
func (t *Tracker) All() []domain.UserPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.UserPresence, 0, len(t.presences))
	for _, p := range t.presences {
		out = append(out, p)
	}
	return out
}
