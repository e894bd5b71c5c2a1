package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squadbets/realtime/internal/transport"
)

// wsBackend is a minimal push-channel server for exercising the real
// transport end to end.
type wsBackend struct {
	rejectReason string
	answerPings  bool

	authHeaders chan string
	published   chan transport.Envelope
	conns       chan *websocket.Conn

	srv *httptest.Server
}

func newWSBackend(t *testing.T) *wsBackend {
	t.Helper()

	b := &wsBackend{
		answerPings: true,
		authHeaders: make(chan string, 4),
		published:   make(chan transport.Envelope, 16),
		conns:       make(chan *websocket.Conn, 4),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		b.authHeaders <- c.Request().Header.Get("Authorization")
		b.conns <- conn

		if b.rejectReason != "" {
			return conn.WriteJSON(transport.Envelope{Type: transport.FrameError, Reason: b.rejectReason})
		}
		if err := conn.WriteJSON(transport.Envelope{Type: transport.FrameConnected}); err != nil {
			return err
		}

		for {
			var env transport.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return nil
			}
			switch env.Type {
			case transport.FrameSubscribe:
				// Acknowledge by delivering one event on the topic right
				// away.
				if err := conn.WriteJSON(transport.Envelope{
					Type:    transport.FrameEvent,
					Topic:   env.Topic,
					Payload: json.RawMessage(`{"content":"hello"}`),
				}); err != nil {
					return nil
				}
			case transport.FramePublish:
				b.published <- env
			case transport.FramePing:
				if b.answerPings {
					if err := conn.WriteJSON(transport.Envelope{Type: transport.FramePong}); err != nil {
						return nil
					}
				}
			}
		}
	})

	b.srv = httptest.NewServer(e)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

func TestWebSocketTransportDial(t *testing.T) {
	t.Run("sends the bearer token and waits for the ack", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))

		require.NoError(t, tr.Dial(context.Background()))
		defer tr.Close(context.Background())

		assert.Equal(t, "Bearer test-token", <-b.authHeaders)
		assert.NotEmpty(t, tr.ClientID())
	})

	t.Run("redial supersedes the previous connection", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))

		require.NoError(t, tr.Dial(context.Background()))
		stale := <-b.conns

		require.NoError(t, tr.Dial(context.Background()))
		<-b.conns
		defer tr.Close(context.Background())
		closed := tr.Closed()

		// The stale connection's death must not touch the new one.
		stale.Close()

		select {
		case err := <-closed:
			t.Fatalf("stale connection tore down the current one: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		payload := []byte(`{"action":"create","content":"still here"}`)
		require.NoError(t, tr.Publish(context.Background(), "groups.7.send", payload))
		select {
		case env := <-b.published:
			assert.Equal(t, "groups.7.send", env.Topic)
		case <-time.After(time.Second):
			t.Fatal("publish frame never reached the server")
		}
	})

	t.Run("rejected authentication fails the attempt", func(t *testing.T) {
		b := newWSBackend(t)
		b.rejectReason = "invalid token"
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("bad-token"))

		err := tr.Dial(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("unreachable server fails the attempt", func(t *testing.T) {
		tr := transport.NewWebSocketTransport("ws://127.0.0.1:1/ws", transport.StaticToken("test-token"))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.Error(t, tr.Dial(ctx))
	})
}

func TestWebSocketTransportSubscribe(t *testing.T) {
	t.Run("dispatches inbound events to the topic handler", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))
		require.NoError(t, tr.Dial(context.Background()))
		defer tr.Close(context.Background())

		received := make(chan []byte, 1)
		handle, err := tr.Subscribe(context.Background(), "groups.7.messages",
			func(ctx context.Context, topic string, payload []byte) {
				assert.Equal(t, "groups.7.messages", topic)
				received <- payload
			})
		require.NoError(t, err)
		require.NotEmpty(t, handle)

		select {
		case payload := <-received:
			assert.JSONEq(t, `{"content":"hello"}`, string(payload))
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
	})

	t.Run("subscribe without a connection fails", func(t *testing.T) {
		tr := transport.NewWebSocketTransport("ws://unused", transport.StaticToken("test-token"))

		_, err := tr.Subscribe(context.Background(), "groups.7.messages",
			func(context.Context, string, []byte) {})

		assert.ErrorIs(t, err, transport.ErrNotConnected)
	})

	t.Run("unsubscribed handles stop receiving", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))
		require.NoError(t, tr.Dial(context.Background()))
		defer tr.Close(context.Background())

		received := make(chan []byte, 4)
		handle, err := tr.Subscribe(context.Background(), "groups.7.messages",
			func(ctx context.Context, topic string, payload []byte) {
				received <- payload
			})
		require.NoError(t, err)
		<-received

		require.NoError(t, tr.Unsubscribe(context.Background(), handle))

		// Triggers another event on the same topic via a second handle;
		// only that handler may see it.
		other := make(chan []byte, 4)
		_, err = tr.Subscribe(context.Background(), "groups.7.messages",
			func(ctx context.Context, topic string, payload []byte) {
				other <- payload
			})
		require.NoError(t, err)

		select {
		case <-other:
		case <-time.After(time.Second):
			t.Fatal("second handler saw nothing")
		}
		assert.Empty(t, received)
	})
}

func TestWebSocketTransportPublish(t *testing.T) {
	b := newWSBackend(t)
	tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))
	require.NoError(t, tr.Dial(context.Background()))
	defer tr.Close(context.Background())

	payload := []byte(`{"action":"create","content":"hi"}`)
	require.NoError(t, tr.Publish(context.Background(), "groups.7.send", payload))

	select {
	case env := <-b.published:
		assert.Equal(t, transport.FramePublish, env.Type)
		assert.Equal(t, "groups.7.send", env.Topic)
		assert.JSONEq(t, string(payload), string(env.Payload))
	case <-time.After(time.Second):
		t.Fatal("publish frame never reached the server")
	}
}

func TestWebSocketTransportHeartbeat(t *testing.T) {
	t.Run("answered pings keep the connection alive", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"),
			transport.WithHeartbeat(20*time.Millisecond, 200*time.Millisecond))
		require.NoError(t, tr.Dial(context.Background()))
		defer tr.Close(context.Background())

		select {
		case err := <-tr.Closed():
			t.Fatalf("connection dropped: %v", err)
		case <-time.After(150 * time.Millisecond):
		}
	})

	t.Run("missing pong closes the connection", func(t *testing.T) {
		b := newWSBackend(t)
		b.answerPings = false
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"),
			transport.WithHeartbeat(20*time.Millisecond, 50*time.Millisecond))
		require.NoError(t, tr.Dial(context.Background()))

		select {
		case err := <-tr.Closed():
			require.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat failure did not close the connection")
		}
	})

	t.Run("intentional close does not signal", func(t *testing.T) {
		b := newWSBackend(t)
		tr := transport.NewWebSocketTransport(b.url(), transport.StaticToken("test-token"))
		require.NoError(t, tr.Dial(context.Background()))

		closed := tr.Closed()
		require.NoError(t, tr.Close(context.Background()))

		select {
		case err := <-closed:
			t.Fatalf("intentional close signaled: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	})
}
