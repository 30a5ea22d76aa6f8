package room

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionRejected is returned when a connect-before hook vetoes a connection.
	ErrConnectionRejected = errors.New("room: connection rejected")

	// ErrHandlerFailure is matched by every HandlerError.
	ErrHandlerFailure = errors.New("room: handler failed")

	// ErrDeliveryFailure is matched by every DeliveryError.
	ErrDeliveryFailure = errors.New("room: delivery failed")

	// ErrDuplicateConnection is returned when an identity is already present.
	ErrDuplicateConnection = errors.New("room: duplicate connection")

	// ErrUnknownEncoding marks a message that no receive chain accepted.
	ErrUnknownEncoding = errors.New("room: no receive handler for encoding")

	// ErrClosed is wrapped by transports once a connection is gone.
	ErrClosed = errors.New("room: connection closed")

	// ErrRoomClosed is returned by operations on a room after Close.
	ErrRoomClosed = errors.New("room: closed")

	// ErrInvalidHook is returned when a hook is registered for an unknown
	// phase or encoding.
	ErrInvalidHook = errors.New("room: invalid hook registration")
)

// HandlerError records which hook of which chain failed.
type HandlerError struct {
	Kind  EventKind
	Index int
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("room: %s handler #%d: %v", e.Kind, e.Index, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailure, e.Err}
}

// DeliveryError records a failed send to one recipient.
type DeliveryError struct {
	Conn Conn
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("room: deliver to %s: %v", e.Conn.ID(), e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDeliveryFailure, e.Err}
}
