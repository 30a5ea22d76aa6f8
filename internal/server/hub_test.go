package server

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gorooms/internal/metrics"
	"github.com/Tyrowin/gorooms/internal/room"
)

func TestHubAdd(t *testing.T) {
	hub := NewHub()
	a := room.New("a", room.Options{})
	b := room.New("b", room.Options{})

	require.NoError(t, hub.Add(a))
	require.NoError(t, hub.Add(b))
	assert.Error(t, hub.Add(room.New("a", room.Options{})))

	assert.Equal(t, []*room.Room{a, b}, hub.Rooms())
	got, ok := hub.Room("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = hub.Room("missing")
	assert.False(t, ok)
	assert.Zero(t, hub.ConnectionCount())

	require.NoError(t, hub.Shutdown(time.Second))
}

func TestHubShutdownWithoutClients(t *testing.T) {
	app, _ := newTestApp(t, nil)

	start := time.Now()
	require.NoError(t, app.Hub.Shutdown(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	app, ts := newTestApp(t, nil)

	conns := []*websocket.Conn{
		dial(t, ts, "/ws"),
		dial(t, ts, "/ws"),
		dial(t, ts, "/clock"),
	}
	waitForMembers(t, app, ChatRoomName, 2)
	waitForMembers(t, app, ClockRoomName, 1)
	assert.Equal(t, 3, app.Hub.ConnectionCount())

	require.NoError(t, app.Hub.Shutdown(2*time.Second))
	assert.Zero(t, app.Hub.ConnectionCount())

	for _, conn := range conns {
		err := readUntilClosed(t, conn)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	}
}

func TestHubRejectsLateConnections(t *testing.T) {
	app, ts := newTestApp(t, nil)
	require.NoError(t, app.Hub.Shutdown(time.Second))

	rejected := metrics.RoomConnects.WithLabelValues(ChatRoomName, "room_closed")
	before := testutil.ToFloat64(rejected)

	conn := dial(t, ts, "/ws")
	err := readUntilClosed(t, conn)
	assert.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))
	assert.Zero(t, app.Chat.Room.ConnectionCount())
}

func TestHubRunWithContext(t *testing.T) {
	app, ts := newTestApp(t, nil)
	conn := dial(t, ts, "/ws")
	waitForMembers(t, app, ChatRoomName, 1)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Hub.RunWithContext(ctx, time.Second) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("hub did not stop")
	}

	err := readUntilClosed(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
