package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorooms/internal/metrics"
)

// EventKind selects a hook chain.
type EventKind int

const (
	EventConnectBefore EventKind = iota
	EventConnectAfter
	EventDisconnect
	EventReceive
)

func (k EventKind) String() string {
	switch k {
	case EventConnectBefore:
		return "connect_before"
	case EventConnectAfter:
		return "connect_after"
	case EventDisconnect:
		return "disconnect"
	case EventReceive:
		return "receive"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// HandlerFunc is the common shape of every hook. msg is nil for lifecycle
// events.
type HandlerFunc func(ctx context.Context, r *Room, c Conn, msg *Message) error

// Dispatcher holds the hook chains of one Room. Chains are copied out under a
// read lock and run with no lock held, so hooks may register further hooks.
type Dispatcher struct {
	name string
	log  zerolog.Logger

	mu      sync.RWMutex
	chains  map[EventKind][]HandlerFunc
	receive map[Encoding][]HandlerFunc
}

// NewDispatcher returns an empty dispatcher. name labels logs and metrics.
func NewDispatcher(name string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		name:    name,
		log:     log,
		chains:  make(map[EventKind][]HandlerFunc),
		receive: make(map[Encoding][]HandlerFunc),
	}
}

// Register appends h to the chain for kind. Registering for EventReceive
// is the same as RegisterReceive(EncodingAny, h).
func (d *Dispatcher) Register(kind EventKind, h HandlerFunc) {
	if kind == EventReceive {
		d.RegisterReceive(EncodingAny, h)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chains[kind] = appendHandler(d.chains[kind], h)
}

// RegisterReceive appends h to the receive chain for enc.
func (d *Dispatcher) RegisterReceive(enc Encoding, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receive[enc] = appendHandler(d.receive[enc], h)
}

// appendHandler never grows a slice in place, so chains already handed out
// to a running dispatch stay untouched.
func appendHandler(chain []HandlerFunc, h HandlerFunc) []HandlerFunc {
	next := make([]HandlerFunc, len(chain), len(chain)+1)
	copy(next, chain)
	return append(next, h)
}

func (d *Dispatcher) chain(kind EventKind) []HandlerFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chains[kind]
}

func (d *Dispatcher) receiveChain(enc Encoding) []HandlerFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.receive[enc]
}

// Len returns the number of handlers registered for kind.
func (d *Dispatcher) Len(kind EventKind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if kind == EventReceive {
		n := 0
		for _, chain := range d.receive {
			n += len(chain)
		}
		return n
	}
	return len(d.chains[kind])
}

// Dispatch runs the chain for kind in registration order.
//
// A connect-before failure stops the chain and is returned as is. For every
// other kind the failure is logged, the remaining handlers still run, and the
// joined failures are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, kind EventKind, r *Room, c Conn, msg *Message) error {
	if kind == EventReceive && msg != nil {
		return d.DispatchReceive(ctx, r, c, *msg)
	}
	return d.run(ctx, kind, d.chain(kind), r, c, msg)
}

// DispatchReceive routes msg to a receive chain and runs it.
func (d *Dispatcher) DispatchReceive(ctx context.Context, r *Room, c Conn, msg Message) error {
	routed, chain, err := d.Route(msg)
	if err != nil {
		reason := "decode_error"
		if errors.Is(err, ErrUnknownEncoding) {
			reason = "unknown_encoding"
		}
		metrics.RoomMessagesDropped.WithLabelValues(d.name, reason).Inc()
		d.log.Debug().Err(err).Str("conn_id", c.ID()).Str("encoding", string(msg.Encoding)).Msg("dropping inbound message")
		return err
	}
	return d.run(ctx, EventReceive, chain, r, c, &routed)
}

// Route picks the receive chain for msg and decodes it for that chain.
//
// A chain registered for msg's own encoding wins. Text and binary frames then
// fall back to the json chain, and finally any message falls back to the
// EncodingAny chain.
func (d *Dispatcher) Route(msg Message) (Message, []HandlerFunc, error) {
	if chain := d.receiveChain(msg.Encoding); len(chain) > 0 {
		routed, err := msg.decodeAs(msg.Encoding)
		return routed, chain, err
	}
	if msg.Encoding == EncodingText || msg.Encoding == EncodingBinary {
		if chain := d.receiveChain(EncodingJSON); len(chain) > 0 {
			routed, err := msg.decodeAs(EncodingJSON)
			return routed, chain, err
		}
	}
	if chain := d.receiveChain(EncodingAny); len(chain) > 0 {
		routed, err := msg.decodeAs(msg.Encoding)
		return routed, chain, err
	}
	return msg, nil, fmt.Errorf("%w %q", ErrUnknownEncoding, msg.Encoding)
}

func (d *Dispatcher) run(ctx context.Context, kind EventKind, chain []HandlerFunc, r *Room, c Conn, msg *Message) error {
	var failures []error
	for i, h := range chain {
		err := d.call(ctx, h, r, c, msg)
		if err == nil {
			continue
		}

		herr := &HandlerError{Kind: kind, Index: i, Err: err}
		metrics.RoomHookFailures.WithLabelValues(d.name, kind.String()).Inc()

		if kind == EventConnectBefore {
			d.log.Info().Err(err).Str("conn_id", c.ID()).Int("handler", i).Msg("connection vetoed by before hook")
			return herr
		}

		d.log.Warn().Err(err).Str("conn_id", c.ID()).Str("event", kind.String()).Int("handler", i).Msg("hook failed")
		failures = append(failures, herr)
	}
	return errors.Join(failures...)
}

// call runs one hook, turning a panic into an error.
func (d *Dispatcher) call(ctx context.Context, h HandlerFunc, r *Room, c Conn, msg *Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, r, c, msg)
}
