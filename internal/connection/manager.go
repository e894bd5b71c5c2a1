// Package connection owns the push channel's lifecycle: connect,
// authenticate, heartbeat supervision, and reconnection with exponential
// backoff. It is the only component that mutates the connection state;
// everything else observes it through the StateChanges bus event.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/pubsub"
	"github.com/squadbets/realtime/internal/transport"
)

// StateChanges is published on every connection state transition.
var StateChanges = pubsub.NewEvent[domain.StateChange](
	"connection.state",
	"Connection lifecycle transitions of the push channel",
)

// DefaultConnectTimeout bounds a single connect attempt.
const DefaultConnectTimeout = 30 * time.Second

// ErrConnectTimeout is returned when a connect attempt exceeds the
// configured timeout.
var ErrConnectTimeout = errors.New("connection: connect timed out")

// Manager drives the connection state machine. Concurrent Connect calls
// while one is in flight share the same attempt instead of opening a
// second transport.
type Manager struct {
	transport transport.PushTransport
	publisher pubsub.Publisher
	logger    *slog.Logger

	connectTimeout time.Duration
	maxAttempts    int
	backoff        func(failures int) time.Duration

	mu          sync.Mutex
	state       domain.ConnectionState
	inflight    chan struct{}
	inflightErr error
	// stop is closed by Disconnect to end the watch/reconnect goroutines
	// of the current session.
	stop chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout overrides the per-attempt connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// WithBackoff overrides the reconnect delay schedule. Tests use this to
// avoid real sleeps; the schedule itself is covered by Backoff's tests.
func WithBackoff(f func(failures int) time.Duration) Option {
	return func(m *Manager) { m.backoff = f }
}

// WithMaxAttempts overrides how many reconnect attempts are made before
// settling into the disconnected state.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// NewManager creates a connection manager over the given transport.
func NewManager(t transport.PushTransport, pub pubsub.Publisher, opts ...Option) *Manager {
	m := &Manager{
		transport:      t,
		publisher:      pub,
		logger:         slog.Default().With("component", "connection_manager"),
		connectTimeout: DefaultConnectTimeout,
		maxAttempts:    MaxReconnectAttempts,
		backoff:        Backoff,
		state:          domain.StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the push channel. It returns once the transport
// reports connected, the attempt times out, or it fails. A concurrent
// call while an attempt is in flight, including an attempt made by the
// automatic reconnect cycle, waits for that same attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == domain.StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.inflight != nil {
		done := m.inflight
		m.mu.Unlock()
		select {
		case <-done:
			m.mu.Lock()
			err := m.inflightErr
			m.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	m.inflight = done
	m.mu.Unlock()

	m.setState(domain.StateConnecting, 0)
	err := m.dial(ctx)
	if err != nil {
		m.setState(domain.StateDisconnected, 0)
	} else {
		stop := make(chan struct{})
		m.mu.Lock()
		m.stop = stop
		m.mu.Unlock()
		m.setState(domain.StateConnected, 0)
		go m.watch(stop, m.transport.Closed())
	}

	m.mu.Lock()
	m.inflightErr = err
	m.inflight = nil
	m.mu.Unlock()
	close(done)

	return err
}

// Disconnect tears the connection down intentionally. No reconnect is
// attempted and no Closed signal fires.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	err := m.transport.Close(ctx)
	m.setState(domain.StateDisconnected, 0)
	return err
}

func (m *Manager) dial(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	err := m.transport.Dial(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", ErrConnectTimeout, m.connectTimeout)
	}
	return err
}

// watch waits for the current connection to drop and runs the reconnect
// cycle. Heartbeat failures arrive on the same channel as socket closes
// and are treated identically.
func (m *Manager) watch(stop <-chan struct{}, closed <-chan error) {
	select {
	case <-stop:
		return
	case err := <-closed:
		m.logger.Warn("Push channel lost", "error", err)
		m.reconnect(stop)
	}
}

func (m *Manager) reconnect(stop <-chan struct{}) {
	for failures := 0; failures < m.maxAttempts; failures++ {
		m.setState(domain.StateReconnecting, failures+1)

		delay := m.backoff(failures)
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		// Each attempt claims the same in-flight slot manual Connect
		// calls use, so a Connect during the cycle joins the cycle's
		// attempt instead of dialing a second transport. If a manual
		// attempt claimed the slot first, adopt its outcome.
		m.mu.Lock()
		if m.inflight != nil {
			done := m.inflight
			m.mu.Unlock()
			select {
			case <-stop:
				return
			case <-done:
			}
			if m.State() == domain.StateConnected {
				return
			}
			continue
		}
		done := make(chan struct{})
		m.inflight = done
		m.mu.Unlock()

		m.setState(domain.StateConnecting, failures+1)
		err := m.dial(context.Background())

		m.mu.Lock()
		m.inflightErr = err
		m.inflight = nil
		m.mu.Unlock()

		if err != nil {
			close(done)
			m.logger.Warn("Reconnect attempt failed", "attempt", failures+1, "error", err)
			continue
		}

		m.setState(domain.StateConnected, 0)
		close(done)
		go m.watch(stop, m.transport.Closed())
		return
	}

	m.logger.Error("Giving up on reconnection", "attempts", m.maxAttempts)
	m.setState(domain.StateDisconnected, 0)
}

func (m *Manager) setState(next domain.ConnectionState, attempt int) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	change := domain.StateChange{Previous: prev, Current: next, Attempt: attempt}
	if err := pubsub.Publish(context.Background(), m.publisher, StateChanges, change); err != nil {
		m.logger.Error("Failed to publish state change", "error", err)
	}
	m.logger.Info("Connection state changed", "previous", prev, "current", next, "attempt", attempt)
}
