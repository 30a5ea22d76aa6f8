package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/room"
)

// ClientOptions sizes a Client's queue and timing.
type ClientOptions struct {
	MaxMessageSize int64
	SendQueueSize  int
	// PongWait is the read deadline extended by every pong. Zero disables it.
	PongWait  time.Duration
	WriteWait time.Duration
}

// DefaultClientOptions mirrors the server defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxMessageSize: 512,
		SendQueueSize:  256,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
	}
}

type frame struct {
	kind int
	data []byte
}

// Client adapts a gorilla WebSocket connection to room.Conn and room.Pinger.
// Outbound frames go through a bounded queue drained by writePump, so a slow
// peer makes Send block until its context expires.
type Client struct {
	id   string
	addr string
	conn *websocket.Conn
	opts ClientOptions
	log  zerolog.Logger

	send chan frame
	done chan struct{}

	readSetup sync.Once
	closeOnce sync.Once
}

// NewClient wraps conn. The caller starts writePump.
func NewClient(conn *websocket.Conn, addr string, opts ClientOptions) *Client {
	defaults := DefaultClientOptions()
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaults.SendQueueSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}

	id := uuid.NewString()
	return &Client{
		id:   id,
		addr: addr,
		conn: conn,
		opts: opts,
		log:  logging.With().Str("conn_id", id).Str("client", addr).Logger(),
		send: make(chan frame, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection's unique identity.
func (c *Client) ID() string {
	return c.id
}

// Label returns the remote address.
func (c *Client) Label() string {
	return c.addr
}

// Send queues msg for writing. Text and json messages become text frames.
func (c *Client) Send(ctx context.Context, msg room.Message) error {
	f := frame{kind: websocket.TextMessage, data: msg.Payload}
	if msg.Encoding == room.EncodingBinary {
		f.kind = websocket.BinaryMessage
	}

	select {
	case <-c.done:
		return fmt.Errorf("send to %s: %w", c.addr, room.ErrClosed)
	default:
	}

	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return fmt.Errorf("send to %s: %w", c.addr, room.ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("send to %s: queue full: %w", c.addr, ctx.Err())
	}
}

// Receive blocks for the next data frame. Close unblocks it; ctx is not
// consulted because gorilla reads cannot be interrupted any other way.
func (c *Client) Receive(_ context.Context) (room.Message, error) {
	c.readSetup.Do(c.setupReadConnection)

	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		c.handleReadError(err)
		return room.Message{}, fmt.Errorf("read from %s: %w: %w", c.addr, room.ErrClosed, err)
	}
	if kind == websocket.BinaryMessage {
		return room.BinaryMessage(data), nil
	}
	return room.TextMessage(string(data)), nil
}

// Ping writes a ping control frame. The peer's pong extends the read deadline.
func (c *Client) Ping(ctx context.Context) error {
	select {
	case <-c.done:
		return fmt.Errorf("ping %s: %w", c.addr, room.ErrClosed)
	default:
	}

	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("ping %s: %w", c.addr, err)
	}
	return nil
}

// Close sends a normal-closure frame and closes the socket. Later calls are
// no-ops.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait)); werr != nil && !isExpectedCloseError(werr) {
			c.log.Debug().Err(werr).Msg("error writing close message")
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// setupReadConnection applies the read limit and the pong-driven deadline.
func (c *Client) setupReadConnection() {
	if c.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	if c.opts.PongWait <= 0 {
		return
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			c.log.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs a read failure at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	select {
	case <-c.done:
		// Closed locally; the read error is the consequence.
		return
	default:
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("max_message_size", c.opts.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		c.log.Info().Err(err).Msg("WebSocket read error")
	}
}

// writePump drains the send queue until the client is closed or a write
// fails.
func (c *Client) writePump() {
	defer c.closeConnection()

	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(f) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) writeFrame(f frame) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// closeConnection closes the client, logging only unexpected failures.
func (c *Client) closeConnection() {
	if err := c.Close(); err != nil {
		c.log.Debug().Err(err).Msg("error closing connection")
	}
}
