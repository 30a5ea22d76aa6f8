package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorooms/internal/config"
	"github.com/Tyrowin/gorooms/internal/logging"
)

const testOrigin = "http://localhost:8080"

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
	os.Exit(m.Run())
}

// newTestApp serves a fresh App over httptest. mutate may adjust the
// configuration before the app is built.
func newTestApp(t *testing.T, mutate func(*config.Config)) (*App, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Room.SendTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	app, err := NewApp(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(app.Handler)
	t.Cleanup(func() {
		_ = app.Hub.Shutdown(2 * time.Second)
		ts.Close()
	})
	return app, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func originHeader(origin string) http.Header {
	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return h
}

// dial opens a WebSocket to path with the default allowed origin.
func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, path), originHeader(testOrigin))
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForMembers blocks until the room named name has n Active connections.
func waitForMembers(t *testing.T, app *App, name string, n int) {
	t.Helper()

	r, ok := app.Hub.Room(name)
	require.True(t, ok, "room %q", name)
	require.Eventually(t, func() bool {
		return r.ConnectionCount() == n
	}, 2*time.Second, 10*time.Millisecond, "room %q never reached %d members", name, n)
}

func sendChat(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	data, err := json.Marshal(ChatMessage{Content: content})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readFrame reads the next chat frame, presence notices included.
func readFrame(t *testing.T, conn *websocket.Conn) ChatMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ChatMessage
	require.NoError(t, json.Unmarshal(data, &msg), "frame %q", data)
	return msg
}

// readChat skips presence notices and returns the next relayed message.
func readChat(t *testing.T, conn *websocket.Conn) ChatMessage {
	t.Helper()
	for {
		msg := readFrame(t, conn)
		if msg.Event == "" {
			return msg
		}
	}
}

// readEvent returns the next presence notice of the given kind.
func readEvent(t *testing.T, conn *websocket.Conn, event string) ChatMessage {
	t.Helper()
	for {
		msg := readFrame(t, conn)
		if msg.Event == event {
			return msg
		}
	}
}

// expectNoChat fails if a relayed message arrives within wait. The conn is
// unusable for reads afterwards.
func expectNoChat(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read error: %v", err)
			return
		}
		var msg ChatMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		require.NotEmpty(t, msg.Event, "unexpected chat message %q", data)
	}
}

// readUntilClosed drains conn until the server closes it and returns the
// close error.
func readUntilClosed(t *testing.T, conn *websocket.Conn) error {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}
