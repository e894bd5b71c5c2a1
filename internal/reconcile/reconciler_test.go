package reconcile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadbets/realtime/internal/domain"
)

func newMsg(id int64, content string) *domain.Message {
	return &domain.Message{
		ID:      id,
		GroupID: 7,
		Content: content,
		Type:    domain.MessageTypeText,
	}
}

func newEvent(id int64, content string) domain.MessageEvent {
	return domain.MessageEvent{
		Kind:    domain.MessageEventNew,
		GroupID: 7,
		Message: newMsg(id, content),
	}
}

func pending(tempID string, msgID int64, content string) domain.PendingSend {
	return domain.PendingSend{
		ClientTempID:      tempID,
		TempMessageID:     msgID,
		GroupID:           7,
		SenderDisplayName: "Me",
		Content:           content,
	}
}

func ids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestReconcilerIngest(t *testing.T) {
	t.Run("appends in arrival order", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "first"))
		r.Ingest(newEvent(2, "second"))

		assert.Equal(t, []int64{1, 2}, ids(r.Messages(7)))
	})

	t.Run("drops duplicate new events", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "first"))
		r.Ingest(newEvent(1, "first again"))

		msgs := r.Messages(7)
		require.Len(t, msgs, 1)
		assert.Equal(t, "first", msgs[0].Content)
	})

	t.Run("edit replaces content in place", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "first"))
		r.Ingest(newEvent(2, "second"))

		r.Ingest(domain.MessageEvent{
			Kind:    domain.MessageEventEdit,
			GroupID: 7,
			Message: newMsg(1, "first, corrected"),
		})

		msgs := r.Messages(7)
		require.Len(t, msgs, 2)
		assert.Equal(t, "first, corrected", msgs[0].Content)
		assert.True(t, msgs[0].IsEdited)
		assert.Equal(t, int64(1), msgs[0].ID)
	})

	t.Run("edit for an unknown id is ignored", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(domain.MessageEvent{
			Kind:    domain.MessageEventEdit,
			GroupID: 7,
			Message: newMsg(404, "ghost"),
		})

		assert.Empty(t, r.Messages(7))
	})

	t.Run("delete removes and tombstones", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "first"))

		r.Ingest(domain.MessageEvent{Kind: domain.MessageEventDelete, GroupID: 7, MessageID: 1})
		assert.Empty(t, r.Messages(7))

		// A late duplicate of the deleted message must not resurrect it.
		r.Ingest(newEvent(1, "first"))
		assert.Empty(t, r.Messages(7))
	})

	t.Run("groups are isolated", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "group seven"))
		r.Ingest(domain.MessageEvent{
			Kind:    domain.MessageEventNew,
			GroupID: 8,
			Message: &domain.Message{ID: 1, GroupID: 8, Content: "group eight"},
		})

		require.Len(t, r.Messages(7), 1)
		require.Len(t, r.Messages(8), 1)
		assert.Equal(t, "group seven", r.Messages(7)[0].Content)
	})
}

func TestReconcilerOptimistic(t *testing.T) {
	t.Run("pending entry is visible immediately", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))

		msgs := r.Messages(7)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Pending)
		assert.Equal(t, int64(-1), msgs[0].ID)
		assert.Equal(t, "Me", msgs[0].SenderDisplayName)
	})

	t.Run("confirm replaces the entry in place", func(t *testing.T) {
		r := NewReconciler()
		r.Ingest(newEvent(1, "before"))
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))
		r.Ingest(newEvent(2, "after"))

		r.ConfirmOptimistic("tmp-1", *newMsg(42, "on my way"))

		msgs := r.Messages(7)
		assert.Equal(t, []int64{1, 42, 2}, ids(msgs))
		assert.False(t, msgs[1].Pending)
	})

	t.Run("echo arriving as a plain event wins over the confirm", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))

		// The authoritative message reaches the group channel before the
		// sender's confirm path runs.
		r.Ingest(newEvent(42, "on my way"))
		r.ConfirmOptimistic("tmp-1", *newMsg(42, "on my way"))

		assert.Equal(t, []int64{42}, ids(r.Messages(7)))
	})

	t.Run("confirm without an outstanding entry ingests normally", func(t *testing.T) {
		r := NewReconciler()
		r.ConfirmOptimistic("tmp-unknown", *newMsg(42, "on my way"))

		assert.Equal(t, []int64{42}, ids(r.Messages(7)))
	})

	t.Run("delete before confirm removes the entry", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))

		r.Ingest(domain.MessageEvent{Kind: domain.MessageEventDelete, GroupID: 7, MessageID: 42})
		r.ConfirmOptimistic("tmp-1", *newMsg(42, "on my way"))

		assert.Empty(t, r.Messages(7))
	})

	t.Run("failed entry stays visible", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))

		r.FailOptimistic("tmp-1")

		msgs := r.Messages(7)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Failed)
		assert.False(t, msgs[0].Pending)
	})

	t.Run("late confirm resolves a failed entry", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))
		r.FailOptimistic("tmp-1")

		r.ConfirmOptimistic("tmp-1", *newMsg(42, "on my way"))

		msgs := r.Messages(7)
		require.Len(t, msgs, 1)
		assert.Equal(t, int64(42), msgs[0].ID)
		assert.False(t, msgs[0].Failed)
	})

	t.Run("discard removes a failed entry only", func(t *testing.T) {
		r := NewReconciler()
		r.InsertOptimistic(pending("tmp-1", -1, "on my way"))

		// Still pending; discard must not remove it.
		r.DiscardFailed("tmp-1")
		require.Len(t, r.Messages(7), 1)

		r.FailOptimistic("tmp-1")
		r.DiscardFailed("tmp-1")
		assert.Empty(t, r.Messages(7))
	})
}

func TestReconcilerWindow(t *testing.T) {
	t.Run("evicts oldest confirmed entries beyond the window", func(t *testing.T) {
		r := NewReconciler(WithWindow(3))
		for i := int64(1); i <= 5; i++ {
			r.Ingest(newEvent(i, fmt.Sprintf("msg %d", i)))
		}

		assert.Equal(t, []int64{3, 4, 5}, ids(r.Messages(7)))
	})

	t.Run("never evicts pending or failed entries", func(t *testing.T) {
		r := NewReconciler(WithWindow(2))
		r.InsertOptimistic(pending("tmp-1", -1, "hold on"))
		for i := int64(1); i <= 4; i++ {
			r.Ingest(newEvent(i, fmt.Sprintf("msg %d", i)))
		}

		got := ids(r.Messages(7))
		assert.Contains(t, got, int64(-1))
		assert.Contains(t, got, int64(4))
	})

	t.Run("evicted ids can reappear", func(t *testing.T) {
		// Eviction is retention, not deletion; a re-delivered old message
		// is treated as new again. Consumers page older history over the
		// fallback surface instead.
		r := NewReconciler(WithWindow(2))
		for i := int64(1); i <= 3; i++ {
			r.Ingest(newEvent(i, fmt.Sprintf("msg %d", i)))
		}
		r.Ingest(newEvent(1, "msg 1"))

		assert.Equal(t, []int64{3, 1}, ids(r.Messages(7)))
	})

	t.Run("tombstones age out with the window", func(t *testing.T) {
		// The tombstone set follows the same retention as the entries;
		// otherwise a long-lived group grows it without bound.
		r := NewReconciler(WithWindow(2))
		for i := int64(1); i <= 3; i++ {
			r.Ingest(domain.MessageEvent{Kind: domain.MessageEventDelete, GroupID: 7, MessageID: i})
		}

		// The newest deletions still block re-delivery.
		r.Ingest(newEvent(2, "msg 2"))
		r.Ingest(newEvent(3, "msg 3"))
		assert.Empty(t, r.Messages(7))

		// The oldest tombstone fell out of the window, so that id is
		// treated like any other evicted one.
		r.Ingest(newEvent(1, "msg 1"))
		assert.Equal(t, []int64{1}, ids(r.Messages(7)))
	})
}

func TestReconcilerEvictGroup(t *testing.T) {
	r := NewReconciler()
	r.Ingest(newEvent(1, "first"))

	r.EvictGroup(7)

	assert.Empty(t, r.Messages(7))
}
