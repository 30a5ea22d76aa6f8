package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/metrics"
)

// DefaultLivenessInterval is how often a Pinger connection is pinged when
// Options leaves it unset.
const DefaultLivenessInterval = 54 * time.Second

// Options tunes a Room.
type Options struct {
	// Logger defaults to the process-wide logger.
	Logger *zerolog.Logger
	// SendTimeout bounds every delivery attempt.
	SendTimeout time.Duration
	// LivenessInterval is the ping period for connections implementing
	// Pinger. Zero disables probing.
	LivenessInterval time.Duration
	// InboundBurst and InboundInterval limit inbound messages per managed
	// connection. A non-positive burst disables limiting.
	InboundBurst    int
	InboundInterval time.Duration
}

// DefaultOptions returns the options used by the demo server.
func DefaultOptions() Options {
	return Options{
		SendTimeout:      DefaultSendTimeout,
		LivenessInterval: DefaultLivenessInterval,
		InboundBurst:     5,
		InboundInterval:  time.Second,
	}
}

// Phase selects the connect chain a hook joins.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// LifecycleHandler is a connect or disconnect hook.
type LifecycleHandler func(ctx context.Context, r *Room, c Conn) error

// ReceiveHandler is an inbound message hook.
type ReceiveHandler func(ctx context.Context, r *Room, c Conn, msg Message) error

// ScopeFunc is the body run by Scope while its connection is Active.
type ScopeFunc func(ctx context.Context, s *Session) error

// Room owns a set of live connections and the hooks that react to them.
type Room struct {
	name string
	opts Options
	log  zerolog.Logger

	registry    *Registry
	hooks       *Dispatcher
	broadcaster *Broadcaster

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	extMu      sync.RWMutex
	extensions []forgetter
}

// New creates an empty room.
func New(name string, opts Options) *Room {
	logger := logging.Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("room", name).Logger()

	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Room{
		name:        name,
		opts:        opts,
		log:         logger,
		registry:    NewRegistry(),
		hooks:       NewDispatcher(name, logger),
		broadcaster: NewBroadcaster(name, opts.SendTimeout),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

// Name returns the room's label.
func (r *Room) Name() string {
	return r.name
}

// Dispatcher exposes the room's hook chains.
func (r *Room) Dispatcher() *Dispatcher {
	return r.hooks
}

// OnConnect registers a connect hook for phase. Before hooks may veto the
// connection by returning an error.
func (r *Room) OnConnect(phase Phase, h LifecycleHandler) error {
	var kind EventKind
	switch phase {
	case PhaseBefore:
		kind = EventConnectBefore
	case PhaseAfter:
		kind = EventConnectAfter
	default:
		return fmt.Errorf("%w: phase %q", ErrInvalidHook, phase)
	}
	r.hooks.Register(kind, lifecycle(h))
	return nil
}

// OnConnection registers an after-connect hook.
func (r *Room) OnConnection(h LifecycleHandler) {
	r.hooks.Register(EventConnectAfter, lifecycle(h))
}

// OnDisconnect registers a hook run once for each Active connection that
// leaves the room.
func (r *Room) OnDisconnect(h LifecycleHandler) {
	r.hooks.Register(EventDisconnect, lifecycle(h))
}

// OnReceive registers an inbound hook for enc. EncodingAny catches every
// message no other chain claimed.
func (r *Room) OnReceive(enc Encoding, h ReceiveHandler) error {
	if !enc.Valid() {
		return fmt.Errorf("%w: encoding %q", ErrInvalidHook, enc)
	}
	r.hooks.RegisterReceive(enc, func(ctx context.Context, r *Room, c Conn, msg *Message) error {
		return h(ctx, r, c, *msg)
	})
	return nil
}

func lifecycle(h LifecycleHandler) HandlerFunc {
	return func(ctx context.Context, r *Room, c Conn, _ *Message) error {
		return h(ctx, r, c)
	}
}

// Connect admits c in managed mode: inbound messages are read and routed to
// the receive hooks. It blocks until the connection is Closed and returns nil
// when it ended normally.
func (r *Room) Connect(ctx context.Context, c Conn, extras ...Extra) error {
	s, err := r.begin(ctx, c, modeManaged, extras)
	if err != nil {
		return err
	}
	s.serve()
	return nil
}

// Listen admits c in listen mode: it only receives pushes. Inbound frames are
// read and discarded so that a closed peer is noticed. It blocks until the
// connection is Closed.
func (r *Room) Listen(ctx context.Context, c Conn, extras ...Extra) error {
	s, err := r.begin(ctx, c, modePassive, extras)
	if err != nil {
		return err
	}
	s.serve()
	return nil
}

// Scope admits c in listen mode, runs fn, and removes c when fn returns,
// fails or panics. A panic is re-raised after the connection is finalized.
func (r *Room) Scope(ctx context.Context, c Conn, fn ScopeFunc, extras ...Extra) (err error) {
	s, err := r.begin(ctx, c, modePassive, extras)
	if err != nil {
		return err
	}
	go s.serve()

	defer func() {
		if p := recover(); p != nil {
			s.finish(fmt.Errorf("scope panicked: %v", p))
			<-s.done
			panic(p)
		}
		s.finish(err)
		<-s.done
	}()
	return fn(s.ctx, s)
}

func (r *Room) begin(ctx context.Context, c Conn, m mode, extras []Extra) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.RoomConnects.WithLabelValues(r.name, "room_closed").Inc()
		_ = c.Close()
		return nil, ErrRoomClosed
	}
	if _, exists := r.sessions[c.ID()]; exists {
		r.mu.Unlock()
		metrics.RoomConnects.WithLabelValues(r.name, "duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID())
	}
	s := newSession(ctx, r, c, m)
	r.sessions[c.ID()] = s
	r.wg.Add(1)
	r.mu.Unlock()

	if err := s.connect(extras); err != nil {
		return nil, err
	}
	return s, nil
}

// release drops the session from the room's bookkeeping. It runs after the
// disconnect hooks.
func (r *Room) release(s *Session) {
	r.extMu.RLock()
	for _, ext := range r.extensions {
		ext.forget(s.conn.ID())
	}
	r.extMu.RUnlock()

	r.mu.Lock()
	if r.sessions[s.conn.ID()] == s {
		delete(r.sessions, s.conn.ID())
	}
	r.mu.Unlock()
}

func (r *Room) addExtension(f forgetter) {
	r.extMu.Lock()
	defer r.extMu.Unlock()
	r.extensions = append(r.extensions, f)
}

// Session returns the live session of c. A stale handle whose identity has
// since been reused by another connection has no session.
func (r *Room) Session(c Conn) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[c.ID()]
	if !ok || s.conn != c {
		return nil, false
	}
	return s, true
}

// State returns c's lifecycle state. Unknown connections report StateClosed.
func (r *Room) State(c Conn) State {
	if s, ok := r.Session(c); ok {
		return s.State()
	}
	return StateClosed
}

// Disconnect finalizes c. It reports whether c was still live; calling it
// again is a no-op.
func (r *Room) Disconnect(c Conn) bool {
	s, ok := r.Session(c)
	if !ok || s.State() >= StateClosing {
		return false
	}
	s.finish(nil)
	return true
}

// Connections returns an immutable view of the Active connections.
func (r *Room) Connections() Snapshot {
	return r.registry.Snapshot()
}

// ConnectionCount returns the number of Active connections.
func (r *Room) ConnectionCount() int {
	return r.registry.Len()
}

type pushConfig struct {
	exclude Conn
}

// PushOption adjusts a single push.
type PushOption func(*pushConfig)

// Exclude skips c when pushing, typically the sender of the message.
func Exclude(c Conn) PushOption {
	return func(p *pushConfig) {
		p.exclude = c
	}
}

// Push delivers msg to every Active connection of a fresh snapshot.
// Recipients whose delivery fails are evicted before Push returns.
func (r *Room) Push(ctx context.Context, msg Message, opts ...PushOption) Delivery {
	var cfg pushConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	d := r.broadcaster.Push(ctx, r.registry.Snapshot(), msg, cfg.exclude)
	for _, failed := range d.Failed {
		r.evict(failed.Conn, failed)
	}
	return d
}

// PushText pushes a text frame.
func (r *Room) PushText(ctx context.Context, text string, opts ...PushOption) Delivery {
	return r.Push(ctx, TextMessage(text), opts...)
}

// PushBytes pushes a binary frame.
func (r *Room) PushBytes(ctx context.Context, data []byte, opts ...PushOption) Delivery {
	return r.Push(ctx, BinaryMessage(data), opts...)
}

// PushJSON encodes v and pushes it as a json frame.
func (r *Room) PushJSON(ctx context.Context, v any, opts ...PushOption) (Delivery, error) {
	msg, err := JSONMessage(v)
	if err != nil {
		return Delivery{}, err
	}
	return r.Push(ctx, msg, opts...), nil
}

func (r *Room) evict(c Conn, cause error) {
	s, ok := r.Session(c)
	if !ok || s.State() >= StateClosing {
		return
	}
	metrics.RoomEvictions.WithLabelValues(r.name).Inc()
	s.log.Info().Err(cause).Msg("evicting connection after failed delivery")
	s.finish(cause)
}

// Close stops admitting connections, finalizes every live one and waits for
// their disconnect hooks until ctx ends.
func (r *Room) Close(ctx context.Context) error {
	r.mu.Lock()
	alreadyClosed := r.closed
	r.closed = true
	live := len(r.sessions)
	r.mu.Unlock()

	if !alreadyClosed {
		r.log.Info().Int("connections", live).Msg("closing room")
		r.cancel(ErrRoomClosed)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info().Msg("room closed")
		return nil
	case <-ctx.Done():
		r.log.Warn().Err(ctx.Err()).Msg("room close timed out")
		return ctx.Err()
	}
}
