// Package room manages a dynamic group of live, message-oriented connections.
//
// A Room composes four pieces:
//
//   - Registry: the authoritative, copy-on-write set of Active connections.
//   - Dispatcher: ordered hook chains per event kind (connect-before,
//     connect-after, disconnect, receive by encoding).
//   - Broadcaster: concurrent fan-out of one payload to a registry snapshot
//     with a bounded per-recipient send timeout.
//   - Session: the per-connection state machine
//     (Connecting → Active → Closing → Closed) that runs hooks, owns registry
//     membership and, in managed mode, the inbound read loop.
//
// Transports plug in by implementing Conn. Per-connection auxiliary data is
// kept in side-tables created with NewExtension rather than by wrapping Conn.
//
// Typical use:
//
//	chat := room.New("chat", room.DefaultOptions())
//	chat.OnReceive(room.EncodingText, func(ctx context.Context, r *room.Room, c room.Conn, msg room.Message) error {
//		r.PushText(ctx, msg.Text(), room.Exclude(c))
//		return nil
//	})
//
//	// In the transport's accept path; blocks until the connection is gone.
//	err := chat.Connect(ctx, conn)
package room
