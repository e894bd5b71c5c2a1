package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func TestAggregator(t *testing.T) {
	t.Run("start event makes the user visible", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "alice", true)

		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))
		assert.Empty(t, a.TypingUsers(8))
	})

	t.Run("stop event removes the user immediately", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "alice", true)
		a.OnTypingEvent(7, "alice", false)

		assert.Empty(t, a.TypingUsers(7))
	})

	t.Run("stop for an unknown user is a no-op", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "alice", false)

		assert.Empty(t, a.TypingUsers(7))
	})

	t.Run("entries expire after the ttl", func(t *testing.T) {
		clock := newFakeClock()
		a := NewAggregator("me", WithNow(clock.Now))
		a.OnTypingEvent(7, "alice", true)

		clock.Advance(DefaultTTL - time.Millisecond)
		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))

		clock.Advance(2 * time.Millisecond)
		assert.Empty(t, a.TypingUsers(7))
	})

	t.Run("refresh extends the expiry", func(t *testing.T) {
		clock := newFakeClock()
		a := NewAggregator("me", WithNow(clock.Now))
		a.OnTypingEvent(7, "alice", true)

		clock.Advance(2 * time.Second)
		a.OnTypingEvent(7, "alice", true)

		clock.Advance(2 * time.Second)
		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))

		clock.Advance(2 * time.Second)
		assert.Empty(t, a.TypingUsers(7))
	})

	t.Run("custom ttl", func(t *testing.T) {
		clock := newFakeClock()
		a := NewAggregator("me", WithNow(clock.Now), WithTTL(10*time.Second))
		a.OnTypingEvent(7, "alice", true)

		clock.Advance(5 * time.Second)
		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))

		clock.Advance(6 * time.Second)
		assert.Empty(t, a.TypingUsers(7))
	})

	t.Run("local user is excluded", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "me", true)
		a.OnTypingEvent(7, "alice", true)

		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))
	})

	t.Run("result is sorted", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "carol", true)
		a.OnTypingEvent(7, "alice", true)
		a.OnTypingEvent(7, "bob", true)

		assert.Equal(t, []string{"alice", "bob", "carol"}, a.TypingUsers(7))
	})

	t.Run("groups are independent", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "alice", true)
		a.OnTypingEvent(8, "bob", true)

		assert.Equal(t, []string{"alice"}, a.TypingUsers(7))
		assert.Equal(t, []string{"bob"}, a.TypingUsers(8))
	})

	t.Run("clear group drops all state", func(t *testing.T) {
		a := NewAggregator("me")
		a.OnTypingEvent(7, "alice", true)
		a.OnTypingEvent(7, "bob", true)

		a.ClearGroup(7)

		assert.Empty(t, a.TypingUsers(7))
	})
}
