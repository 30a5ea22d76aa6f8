package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/room"
)

const (
	ChatRoomName  = "chat"
	ClockRoomName = "clock"

	maxDisplayName = 32
)

// Chat is the demo chat room: JSON messages are relayed to every other
// member, and members are told when someone joins or leaves.
type Chat struct {
	Room  *room.Room
	Names *room.Extension[string]
}

// NewChat builds the chat room and registers its hooks.
func NewChat(opts room.Options) *Chat {
	r := room.New(ChatRoomName, opts)
	c := &Chat{
		Room:  r,
		Names: room.NewExtension[string](r, "display_name"),
	}

	r.OnConnection(c.announce("join"))
	r.OnDisconnect(c.announce("leave"))
	_ = r.OnReceive(room.EncodingJSON, c.relay)
	return c
}

// Extras attaches the ?name= query parameter as the display name.
func (c *Chat) Extras(r *http.Request) []room.Extra {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		return nil
	}
	if utf8.RuneCountInString(name) > maxDisplayName {
		name = string([]rune(name)[:maxDisplayName])
	}
	return []room.Extra{c.Names.With(name)}
}

// DisplayName returns the member's chosen name or its address.
func (c *Chat) DisplayName(conn room.Conn) string {
	if name, ok := c.Names.Get(conn); ok && name != "" {
		return name
	}
	return conn.Label()
}

func (c *Chat) relay(ctx context.Context, r *room.Room, conn room.Conn, msg room.Message) error {
	var in ChatMessage
	if err := msg.Decode(&in); err != nil {
		return fmt.Errorf("invalid chat message: %w", err)
	}

	out := ChatMessage{Content: in.Content, From: c.DisplayName(conn)}
	d, err := r.PushJSON(ctx, out, room.Exclude(conn))
	if err != nil {
		return err
	}
	logging.Debug().
		Str("room", r.Name()).
		Str("conn_id", conn.ID()).
		Int("delivered", len(d.Delivered)).
		Int("failed", len(d.Failed)).
		Msg("relayed chat message")
	return nil
}

func (c *Chat) announce(event string) room.LifecycleHandler {
	return func(ctx context.Context, r *room.Room, conn room.Conn) error {
		_, err := r.PushJSON(ctx, ChatMessage{Event: event, From: c.DisplayName(conn)}, room.Exclude(conn))
		return err
	}
}

// Clock pushes the current unix time to the clock room's listeners.
type Clock struct {
	room     *room.Room
	interval time.Duration
	now      func() time.Time
}

// NewClock returns a publisher for r ticking every interval.
func NewClock(r *room.Room, interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{room: r, interval: interval, now: time.Now}
}

// Room returns the room the clock publishes to.
func (c *Clock) Room() *room.Room {
	return c.room
}

// Tick pushes one reading.
func (c *Clock) Tick(ctx context.Context) room.Delivery {
	d, err := c.room.PushJSON(ctx, ClockTick{CurrentTime: c.now().Unix()})
	if err != nil {
		// ClockTick always encodes.
		logging.Error().Err(err).Msg("encode clock tick")
	}
	return d
}

// Serve implements suture.Service.
func (c *Clock) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.room.ConnectionCount() == 0 {
				continue
			}
			c.Tick(ctx)
		}
	}
}

func (c *Clock) String() string {
	return "clock-publisher"
}
