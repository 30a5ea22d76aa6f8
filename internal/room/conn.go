package room

import (
	"context"
	"fmt"
)

// Conn is one bidirectional, message-oriented channel supplied by a transport.
//
// Receive must return an error wrapping ErrClosed once the channel is gone and
// must be unblocked by Close. Send must honor ctx so a stuck recipient cannot
// hold a broadcast past its deadline. Send and Receive may be called from
// different goroutines. Conns are compared with ==, so implementations are
// usually pointers.
type Conn interface {
	ID() string
	Label() string
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Pinger is implemented by transports that can actively check the peer.
// Sessions ping such connections every Options.LivenessInterval.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State is the lifecycle position of a connection inside a Room.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
