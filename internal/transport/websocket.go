package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// DefaultHeartbeatInterval is how often a ping frame is sent on an
	// established connection.
	DefaultHeartbeatInterval = 25 * time.Second
	// DefaultHeartbeatTimeout is how long to wait for the matching pong
	// before the connection is considered lost.
	DefaultHeartbeatTimeout = 10 * time.Second
)

// WebSocketTransport implements PushTransport over a single WebSocket
// connection. Inbound frames are dispatched to topic handlers one at a
// time, in arrival order.
type WebSocketTransport struct {
	url      string
	tokens   TokenProvider
	clientID string
	logger   *slog.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	handlers    map[string]Handler // handle -> handler
	topics      map[string]string  // handle -> topic
	closed      chan error
	cancelLoops context.CancelFunc
	intentional bool
}

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithHeartbeat overrides the heartbeat interval and timeout. Mostly
// useful in tests.
func WithHeartbeat(interval, timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.heartbeatInterval = interval
		t.heartbeatTimeout = timeout
	}
}

// NewWebSocketTransport creates a transport that dials the given URL.
// The client ID identifies this connection's personal error queue.
func NewWebSocketTransport(url string, tokens TokenProvider, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:               url,
		tokens:            tokens,
		clientID:          uuid.NewString(),
		logger:            slog.Default().With("component", "ws_transport"),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		handlers:          make(map[string]Handler),
		topics:            make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClientID returns the identifier used for the personal error queue.
func (t *WebSocketTransport) ClientID() string {
	return t.clientID
}

// Dial establishes the connection, attaching the current bearer token as
// a connection header, and blocks until the server acknowledges the
// authentication with a connected frame.
func (t *WebSocketTransport) Dial(ctx context.Context) error {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	// The server's first frame acknowledges authentication. Anything
	// else, including an error frame, fails the attempt.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("read auth ack: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("decode auth ack: %w", err)
	}
	if env.Type != FrameConnected {
		conn.Close(websocket.StatusPolicyViolation, "expected connected frame")
		if env.Type == FrameError {
			return fmt.Errorf("authentication rejected: %s", env.Reason)
		}
		return fmt.Errorf("expected %q frame, got %q", FrameConnected, env.Type)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	pongCh := make(chan struct{}, 1)

	t.mu.Lock()
	if t.cancelLoops != nil {
		t.cancelLoops()
	}
	prev := t.conn
	t.conn = conn
	t.closed = make(chan error, 1)
	t.cancelLoops = cancel
	t.intentional = false
	t.mu.Unlock()

	// A superseded connection is retired silently; only the connection
	// currently installed may signal a close.
	if prev != nil {
		prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	go t.readLoop(loopCtx, conn, pongCh)
	go t.heartbeatLoop(loopCtx, conn, pongCh)

	t.logger.Info("Push channel connected", "url", t.url, "client_id", t.clientID)
	return nil
}

// Close tears the connection down intentionally and drops all handlers.
func (t *WebSocketTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.intentional = true
	conn := t.conn
	t.conn = nil
	if t.cancelLoops != nil {
		t.cancelLoops()
		t.cancelLoops = nil
	}
	t.handlers = make(map[string]Handler)
	t.topics = make(map[string]string)
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// Subscribe registers a handler and tells the server to start delivering
// the topic. The returned handle is valid for the current connection only.
func (t *WebSocketTransport) Subscribe(ctx context.Context, topic string, h Handler) (string, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	handle := uuid.NewString()
	if err := t.writeFrame(ctx, conn, Envelope{Type: FrameSubscribe, ID: handle, Topic: topic}); err != nil {
		return "", fmt.Errorf("subscribe %s: %w", topic, err)
	}

	t.mu.Lock()
	t.handlers[handle] = h
	t.topics[handle] = topic
	t.mu.Unlock()

	return handle, nil
}

// Unsubscribe removes the subscription identified by handle. Unknown
// handles are a no-op.
func (t *WebSocketTransport) Unsubscribe(ctx context.Context, handle string) error {
	t.mu.Lock()
	conn := t.conn
	_, known := t.handlers[handle]
	delete(t.handlers, handle)
	delete(t.topics, handle)
	t.mu.Unlock()

	if conn == nil || !known {
		return nil
	}
	return t.writeFrame(ctx, conn, Envelope{Type: FrameUnsubscribe, ID: handle})
}

// Publish sends a payload to a server-side destination.
func (t *WebSocketTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return t.writeFrame(ctx, conn, Envelope{Type: FramePublish, Topic: topic, Payload: payload})
}

// Closed delivers one error when the current connection is lost
// unintentionally. The channel is replaced on every successful Dial.
func (t *WebSocketTransport) Closed() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed == nil {
		// Never connected; return a channel that never fires.
		t.closed = make(chan error, 1)
	}
	return t.closed
}

func (t *WebSocketTransport) writeFrame(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// signalClosed reports an unintentional connection loss exactly once and
// invalidates all subscription handles. Signals from a connection that
// has already been replaced are dropped.
func (t *WebSocketTransport) signalClosed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.intentional || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.cancelLoops != nil {
		t.cancelLoops()
		t.cancelLoops = nil
	}
	t.handlers = make(map[string]Handler)
	t.topics = make(map[string]string)
	closed := t.closed
	t.mu.Unlock()

	select {
	case closed <- err:
	default:
	}
}

func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn, pongCh chan struct{}) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.signalClosed(conn, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case FramePong:
			select {
			case pongCh <- struct{}{}:
			default:
			}
		case FrameEvent:
			t.dispatch(ctx, env)
		case FrameError:
			t.logger.Error("Connection-level error frame", "reason", env.Reason)
		default:
			t.logger.Debug("Ignoring frame", "type", env.Type)
		}
	}
}

// dispatch runs every handler subscribed to the frame's topic, in the
// read loop's goroutine so single-topic ordering is preserved.
func (t *WebSocketTransport) dispatch(ctx context.Context, env Envelope) {
	t.mu.Lock()
	var hs []Handler
	for handle, topic := range t.topics {
		if topic == env.Topic {
			hs = append(hs, t.handlers[handle])
		}
	}
	t.mu.Unlock()

	for _, h := range hs {
		h(ctx, env.Topic, env.Payload)
	}
}

func (t *WebSocketTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn, pongCh chan struct{}) {
	ticker := time.NewTicker(t.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.writeFrame(ctx, conn, Envelope{Type: FramePing}); err != nil {
				t.failHeartbeat(conn, err)
				return
			}
			select {
			case <-pongCh:
			case <-time.After(t.heartbeatTimeout):
				t.failHeartbeat(conn, fmt.Errorf("heartbeat timeout after %s", t.heartbeatTimeout))
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// failHeartbeat treats a missed heartbeat identically to a socket close.
func (t *WebSocketTransport) failHeartbeat(conn *websocket.Conn, err error) {
	t.logger.Warn("Heartbeat failed, closing connection", "error", err)
	conn.Close(websocket.StatusGoingAway, "heartbeat failure")
	t.signalClosed(conn, err)
}
