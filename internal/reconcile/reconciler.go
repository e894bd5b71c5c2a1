// Package reconcile merges inbound message events from any transport
// into one ordered, deduplicated sequence per group, and resolves
// optimistic local entries against server-confirmed state.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/subscription"
)

// DefaultWindow caps how many messages are retained per group. Older
// confirmed entries are evicted from the front; nothing is persisted.
const DefaultWindow = 200

// Entry is a visible message plus its local delivery state. Pending
// entries carry a negative id until confirmation; Failed entries stay
// visible so the consumer can offer retry or discard.
type Entry struct {
	domain.Message
	Pending bool
	Failed  bool
}

type groupStore struct {
	entries  []*Entry
	byID     map[int64]*Entry
	byTempID map[string]*Entry // clientTempID -> outstanding optimistic entry
	// tombstones is bounded to the retention window; a deleted id older
	// than anything still retained cannot resurface through the window
	// either. tombstoneAge keeps insertion order for eviction.
	tombstones   map[int64]struct{}
	tombstoneAge []int64
}

func newGroupStore() *groupStore {
	return &groupStore{
		byID:       make(map[int64]*Entry),
		byTempID:   make(map[string]*Entry),
		tombstones: make(map[int64]struct{}),
	}
}

func (g *groupStore) remove(e *Entry) {
	delete(g.byID, e.ID)
	for i, cur := range g.entries {
		if cur == e {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			return
		}
	}
}

// Reconciler holds the per-group message sequences. All operations are
// synchronous and run to completion; the only suspension points in the
// core are network calls, which never happen here.
type Reconciler struct {
	mu     sync.Mutex
	groups map[int64]*groupStore
	window int
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithWindow overrides the per-group retention window.
func WithWindow(n int) Option {
	return func(r *Reconciler) { r.window = n }
}

// NewReconciler creates an empty reconciler.
func NewReconciler(opts ...Option) *Reconciler {
	r := &Reconciler{
		groups: make(map[int64]*groupStore),
		window: DefaultWindow,
		logger: slog.Default().With("component", "message_reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start routes inbound message events from the bus into the store. An
// echo of the local user's own send carries a clientTempId and resolves
// the outstanding optimistic entry instead of appending a duplicate.
func (r *Reconciler) Start(ctx context.Context, sub pubsub.Subscriber) error {
	return pubsub.SubscribeTyped(ctx, sub, subscription.MessageEvents,
		func(ctx context.Context, ev domain.MessageEvent) error {
			if ev.Kind == domain.MessageEventNew && ev.ClientTempID != "" && ev.Message != nil {
				r.ConfirmOptimistic(ev.ClientTempID, *ev.Message)
				return nil
			}
			r.Ingest(ev)
			return nil
		})
}

// Ingest applies one inbound message event. Duplicate NEW events for an
// already-present or already-deleted id are ignored; EDIT updates the
// stored entry in place; DELETE removes the entry and leaves a tombstone
// so a late duplicate or a late confirm cannot resurrect it.
func (r *Reconciler) Ingest(ev domain.MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(ev.GroupID)

	switch ev.Kind {
	case domain.MessageEventNew:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		if _, deleted := g.tombstones[m.ID]; deleted {
			return
		}
		if _, dup := g.byID[m.ID]; dup {
			return
		}
		e := &Entry{Message: m}
		g.entries = append(g.entries, e)
		g.byID[m.ID] = e
		r.trim(g)

	case domain.MessageEventEdit:
		if ev.Message == nil {
			return
		}
		e, ok := g.byID[ev.Message.ID]
		if !ok {
			return
		}
		e.Content = ev.Message.Content
		e.IsEdited = true

	case domain.MessageEventDelete:
		if e, ok := g.byID[ev.MessageID]; ok {
			g.remove(e)
		}
		r.addTombstone(g, ev.MessageID)

	default:
		r.logger.Warn("Ignoring message event with unknown kind", "kind", ev.Kind)
	}
}

// InsertOptimistic appends a local entry for a send in flight. The entry
// is visible immediately under its temporary negative id.
func (r *Reconciler) InsertOptimistic(p domain.PendingSend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(p.GroupID)
	e := &Entry{
		Message: domain.Message{
			ID:                p.TempMessageID,
			GroupID:           p.GroupID,
			SenderDisplayName: p.SenderDisplayName,
			Content:           p.Content,
			Type:              domain.MessageTypeText,
			ParentMessageID:   p.ParentMessageID,
			CreatedAt:         time.Now(),
		},
		Pending: true,
	}
	g.entries = append(g.entries, e)
	g.byID[p.TempMessageID] = e
	g.byTempID[p.ClientTempID] = e
}

// ConfirmOptimistic replaces the optimistic entry with the authoritative
// message, in place, so the sequence never shows both. If a DELETE for
// the confirmed id already arrived, the tombstone wins and the entry is
// removed instead. If the authoritative message also arrived as a plain
// NEW event first, the temporary entry is dropped in favor of it.
func (r *Reconciler) ConfirmOptimistic(clientTempID string, m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(m.GroupID)

	e, ok := g.byTempID[clientTempID]
	if !ok {
		// No outstanding entry (e.g. confirm raced ahead of the
		// optimistic insert's failure handling): fall back to a plain
		// NEW ingest so the message still becomes visible exactly once.
		if _, deleted := g.tombstones[m.ID]; deleted {
			return
		}
		if _, dup := g.byID[m.ID]; dup {
			return
		}
		ne := &Entry{Message: m}
		g.entries = append(g.entries, ne)
		g.byID[m.ID] = ne
		return
	}
	delete(g.byTempID, clientTempID)

	if _, deleted := g.tombstones[m.ID]; deleted {
		g.remove(e)
		return
	}
	if _, dup := g.byID[m.ID]; dup {
		g.remove(e)
		return
	}

	delete(g.byID, e.ID)
	e.Message = m
	e.Pending = false
	e.Failed = false
	g.byID[m.ID] = e
}

// FailOptimistic marks the optimistic entry failed. It stays visible so
// the consumer can offer retry or discard; a confirmation that still
// arrives later (the send may have been delivered after all) resolves it
// normally.
func (r *Reconciler) FailOptimistic(clientTempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if e, ok := g.byTempID[clientTempID]; ok {
			e.Pending = false
			e.Failed = true
			return
		}
	}
}

// DiscardFailed removes a failed optimistic entry.
func (r *Reconciler) DiscardFailed(clientTempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if e, ok := g.byTempID[clientTempID]; ok && e.Failed {
			delete(g.byTempID, clientTempID)
			g.remove(e)
			return
		}
	}
}

// Messages returns the group's visible sequence in arrival order.
func (r *Reconciler) Messages(groupID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(g.entries))
	for i, e := range g.entries {
		out[i] = *e
	}
	return out
}

// EvictGroup drops a group's sequence entirely, freeing the window after
// the consumer has left the group for good.
func (r *Reconciler) EvictGroup(groupID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, groupID)
}

func (r *Reconciler) group(groupID int64) *groupStore {
	g, ok := r.groups[groupID]
	if !ok {
		g = newGroupStore()
		r.groups[groupID] = g
	}
	return g
}

// addTombstone records a deleted id and evicts the oldest tombstones
// beyond the retention window, mirroring the entry eviction so neither
// side grows without bound.
func (r *Reconciler) addTombstone(g *groupStore, id int64) {
	if _, ok := g.tombstones[id]; ok {
		return
	}
	g.tombstones[id] = struct{}{}
	g.tombstoneAge = append(g.tombstoneAge, id)
	for len(g.tombstoneAge) > r.window {
		delete(g.tombstones, g.tombstoneAge[0])
		g.tombstoneAge = g.tombstoneAge[1:]
	}
}

// trim evicts the oldest confirmed entries beyond the window. Pending
// and failed entries are never evicted; they must resolve explicitly.
func (r *Reconciler) trim(g *groupStore) {
	if len(g.entries) <= r.window {
		return
	}
	excess := len(g.entries) - r.window
	kept := g.entries[:0]
	for _, e := range g.entries {
		if excess > 0 && !e.Pending && !e.Failed {
			delete(g.byID, e.ID)
			excess--
			continue
		}
		kept = append(kept, e)
	}
	g.entries = kept
}
