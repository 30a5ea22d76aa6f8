package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorooms/internal/room"
)

// socketPair returns the server and client ends of a fresh WebSocket.
func socketPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(ts.Close)

	peer, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/"), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, peer
}

func newTestClient(t *testing.T, opts ClientOptions) (*Client, *websocket.Conn) {
	t.Helper()
	conn, peer := socketPair(t)
	c := NewClient(conn, "peer:1", opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func TestNewClientDefaults(t *testing.T) {
	c, _ := newTestClient(t, ClientOptions{})

	_, err := uuid.Parse(c.ID())
	require.NoError(t, err)
	assert.Equal(t, "peer:1", c.Label())
	assert.Equal(t, DefaultClientOptions().SendQueueSize, cap(c.send))
	assert.Equal(t, DefaultClientOptions().WriteWait, c.opts.WriteWait)

	other, _ := newTestClient(t, ClientOptions{})
	assert.NotEqual(t, c.ID(), other.ID())
}

func TestClientSendWritesFrames(t *testing.T) {
	c, peer := newTestClient(t, DefaultClientOptions())
	go c.writePump()

	require.NoError(t, c.Send(t.Context(), room.TextMessage("hello")))
	require.NoError(t, c.Send(t.Context(), room.BinaryMessage([]byte{1, 2})))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "hello", string(data))

	kind, data, err = peer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestClientSendAfterClose(t *testing.T) {
	c, _ := newTestClient(t, DefaultClientOptions())
	require.NoError(t, c.Close())

	err := c.Send(t.Context(), room.TextMessage("late"))
	assert.ErrorIs(t, err, room.ErrClosed)
	assert.ErrorIs(t, c.Ping(t.Context()), room.ErrClosed)
}

func TestClientSendQueueFull(t *testing.T) {
	opts := DefaultClientOptions()
	opts.SendQueueSize = 1
	c, _ := newTestClient(t, opts)

	require.NoError(t, c.Send(t.Context(), room.TextMessage("queued")))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, room.TextMessage("overflow"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientReceive(t *testing.T) {
	c, peer := newTestClient(t, DefaultClientOptions())

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("text")))
	require.NoError(t, peer.WriteMessage(websocket.BinaryMessage, []byte{0xff}))

	msg, err := c.Receive(t.Context())
	require.NoError(t, err)
	assert.Equal(t, room.EncodingText, msg.Encoding)
	assert.Equal(t, "text", msg.Text())

	msg, err = c.Receive(t.Context())
	require.NoError(t, err)
	assert.Equal(t, room.EncodingBinary, msg.Encoding)
	assert.Equal(t, []byte{0xff}, msg.Payload)

	require.NoError(t, peer.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_, err = c.Receive(t.Context())
	assert.ErrorIs(t, err, room.ErrClosed)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestClientReceiveEnforcesReadLimit(t *testing.T) {
	opts := DefaultClientOptions()
	opts.MaxMessageSize = 8
	c, peer := newTestClient(t, opts)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("far too long for the limit")))

	_, err := c.Receive(t.Context())
	assert.ErrorIs(t, err, websocket.ErrReadLimit)
}

func TestClientPing(t *testing.T) {
	c, peer := newTestClient(t, DefaultClientOptions())

	var pings atomic.Int32
	peer.SetPingHandler(func(string) error {
		pings.Add(1)
		return nil
	})
	go func() {
		for {
			if _, _, err := peer.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, c.Ping(t.Context()))
	assert.Eventually(t, func() bool { return pings.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c, peer := newTestClient(t, DefaultClientOptions())
	go c.writePump()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := peer.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{errors.New("write tcp: use of closed network connection"), true},
		{websocket.ErrCloseSent, true},
		{errors.New("write: broken pipe"), true},
		{errors.New("connection reset by peer"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isExpectedCloseError(tt.err), "%v", tt.err)
	}
}
