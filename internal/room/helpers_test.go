package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConn is an in-memory Conn. Messages queued with deliver are returned by
// Receive; everything sent to it is recorded.
type fakeConn struct {
	id    string
	inbox chan Message

	mu      sync.Mutex
	sent    []Message
	sendErr error
	block   bool

	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:     id,
		inbox:  make(chan Message, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ID() string    { return f.id }
func (f *fakeConn) Label() string { return "fake:" + f.id }

func (f *fakeConn) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	err, block := f.sendErr, f.block
	f.mu.Unlock()

	if block {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return fmt.Errorf("fake %s: %w", f.id, ErrClosed)
		}
	}
	if err != nil {
		return err
	}
	select {
	case <-f.closed:
		return fmt.Errorf("fake %s: %w", f.id, ErrClosed)
	default:
	}

	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-f.inbox:
		return msg, nil
	case <-f.closed:
		return Message{}, fmt.Errorf("fake %s: %w", f.id, ErrClosed)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) deliver(msg Message) {
	f.inbox <- msg
}

func (f *fakeConn) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeConn) blockSends() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = true
}

func (f *fakeConn) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, msg := range f.sent {
		out = append(out, msg.Text())
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// pingConn is a fakeConn that implements Pinger.
type pingConn struct {
	*fakeConn
	pingErr atomic.Pointer[error]
	pings   atomic.Int32
}

func (p *pingConn) Ping(context.Context) error {
	p.pings.Add(1)
	if err := p.pingErr.Load(); err != nil {
		return *err
	}
	return nil
}

func newTestRoom(t *testing.T, opts Options) *Room {
	t.Helper()
	logger := zerolog.Nop()
	opts.Logger = &logger
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 200 * time.Millisecond
	}
	r := New(t.Name(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

// connect runs Connect in the background and waits until c is Active.
func connect(t *testing.T, r *Room, c Conn, extras ...Extra) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- r.Connect(context.Background(), c, extras...)
	}()
	waitActive(t, r, c, done)
	return done
}

// listen runs Listen in the background and waits until c is Active.
func listen(t *testing.T, r *Room, c Conn) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- r.Listen(context.Background(), c)
	}()
	waitActive(t, r, c, done)
	return done
}

func waitActive(t *testing.T, r *Room, c Conn, done <-chan error) {
	t.Helper()
	var (
		ended bool
		err   error
	)
	require.Eventually(t, func() bool {
		select {
		case err = <-done:
			ended = true
			return true
		default:
		}
		return r.Connections().Contains(c)
	}, waitFor, tick)
	require.False(t, ended, "connection %s ended before becoming active: %v", c.ID(), err)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitFor):
		t.Fatal("connection did not finish")
		return nil
	}
}

// counter counts hook invocations per connection.
type counter struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) hook(_ context.Context, _ *Room, conn Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[conn.ID()]++
	c.order = append(c.order, conn.ID())
	return nil
}

func (c *counter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

func (c *counter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

var errBroken = errors.New("broken pipe")
