package room

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gorooms/internal/metrics"
)

type mode int

const (
	modeManaged mode = iota
	modePassive
)

func (m mode) String() string {
	if m == modePassive {
		return "listen"
	}
	return "managed"
}

// Session coordinates one connection's life inside a Room. It is created by
// Connect, Listen or Scope and is finished exactly once.
type Session struct {
	room *Room
	conn Conn
	mode mode
	log  zerolog.Logger

	ctx      context.Context
	cancel   context.CancelCauseFunc
	stopRoom func() bool

	limiter *rate.Limiter
	reading atomic.Bool

	// mu orders the Active transition against finish so a connection is
	// never left in the registry after it has been finalized.
	mu         sync.Mutex
	registered bool
	state      atomic.Int32

	once   sync.Once
	done   chan struct{}
	reason error
}

func newSession(parent context.Context, r *Room, c Conn, m mode) *Session {
	ctx, cancel := context.WithCancelCause(parent)
	s := &Session{
		room:    r,
		conn:    c,
		mode:    m,
		ctx:     ctx,
		cancel:  cancel,
		limiter: newInboundLimiter(r.opts.InboundBurst, r.opts.InboundInterval),
		done:    make(chan struct{}),
		log: r.log.With().
			Str("conn_id", c.ID()).
			Str("client", c.Label()).
			Str("mode", m.String()).
			Logger(),
	}
	s.state.Store(int32(StateConnecting))

	// Room shutdown cancels the session; cancellation of either the caller's
	// context or the room finishes it.
	s.stopRoom = context.AfterFunc(r.ctx, func() {
		cancel(ErrRoomClosed)
	})
	context.AfterFunc(ctx, func() {
		s.finish(context.Cause(ctx))
	})
	return s
}

// Conn returns the underlying connection.
func (s *Session) Conn() Conn {
	return s.conn
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session is Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended. It is nil before Done is closed and for
// explicit disconnects.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

// Close finishes the session. It is safe to call more than once.
func (s *Session) Close() {
	s.finish(nil)
}

// connect runs the Connecting phase: extras, before hooks, registration,
// after hooks.
func (s *Session) connect(extras []Extra) error {
	// Extras are only attached while Connecting; finish clears them after
	// moving to Closing under the same lock.
	s.mu.Lock()
	if s.State() == StateConnecting {
		for _, attach := range extras {
			if attach != nil {
				attach(s.conn)
			}
		}
	}
	s.mu.Unlock()

	if err := s.room.hooks.Dispatch(s.ctx, EventConnectBefore, s.room, s.conn, nil); err != nil {
		metrics.RoomConnects.WithLabelValues(s.room.name, "rejected").Inc()
		s.finish(err)
		return fmt.Errorf("%w: %w", ErrConnectionRejected, err)
	}

	if err := s.activate(); err != nil {
		s.finish(err)
		return err
	}

	metrics.RoomConnects.WithLabelValues(s.room.name, "accepted").Inc()
	metrics.RoomConnectionsActive.WithLabelValues(s.room.name).Inc()
	s.log.Info().Int("total_connections", s.room.registry.Len()).Msg("connection registered")

	_ = s.room.hooks.Dispatch(s.ctx, EventConnectAfter, s.room, s.conn, nil)
	return nil
}

func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return context.Cause(s.ctx)
	}
	if s.State() != StateConnecting {
		return fmt.Errorf("%w during connect", ErrClosed)
	}

	s.state.Store(int32(StateActive))
	if err := s.room.registry.Add(s.conn); err != nil {
		return err
	}
	s.registered = true
	return nil
}

// serve runs the mode's loop and returns once the session is Closed.
func (s *Session) serve() {
	if p, ok := s.conn.(Pinger); ok && s.room.opts.LivenessInterval > 0 {
		go s.watchLiveness(p)
	}

	switch s.mode {
	case modePassive:
		s.monitor()
	default:
		s.readLoop()
	}
	<-s.done
}

// messages yields inbound messages until the connection fails or closes.
// The sequence can be consumed once; later ranges yield nothing.
func (s *Session) messages(errp *error) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		if !s.reading.CompareAndSwap(false, true) {
			return
		}
		for {
			msg, err := s.conn.Receive(s.ctx)
			if err != nil {
				*errp = err
				return
			}
			if s.limiter != nil && !s.limiter.Allow() {
				metrics.RoomMessagesDropped.WithLabelValues(s.room.name, "rate_limited").Inc()
				s.log.Warn().
					Int("burst", s.room.opts.InboundBurst).
					Dur("interval", s.room.opts.InboundInterval).
					Msg("rate limit exceeded; discarding message")
				continue
			}
			metrics.RoomMessagesReceived.WithLabelValues(s.room.name, string(msg.Encoding)).Inc()
			if !yield(msg) {
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	var readErr error
	for msg := range s.messages(&readErr) {
		_ = s.room.hooks.DispatchReceive(s.ctx, s.room, s.conn, msg)
	}
	s.finish(readErr)
}

// monitor keeps reading so that a peer closing a listen-mode connection is
// noticed. Inbound frames are discarded.
func (s *Session) monitor() {
	for {
		msg, err := s.conn.Receive(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}
		s.log.Debug().Str("encoding", string(msg.Encoding)).Msg("ignoring inbound message on listening connection")
	}
}

func (s *Session) watchLiveness(p Pinger) {
	ticker := time.NewTicker(s.room.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, s.room.opts.SendTimeout)
			err := p.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Info().Err(err).Msg("liveness check failed")
				s.finish(fmt.Errorf("liveness check: %w", err))
				return
			}
		}
	}
}

// finish moves the session to Closed. Registry removal, closing the channel
// and the disconnect hooks happen once no matter how many paths race here.
func (s *Session) finish(reason error) {
	// A disconnect hook that disconnects its own connection lands here
	// while once.Do is still running.
	if s.State() >= StateClosing {
		return
	}

	s.once.Do(func() {
		s.mu.Lock()
		wasActive := s.registered
		s.registered = false
		s.state.Store(int32(StateClosing))
		if wasActive {
			s.room.registry.Remove(s.conn)
		}
		s.mu.Unlock()

		s.reason = reason
		s.stopRoom()
		s.cancel(errSessionFinished)

		if err := s.conn.Close(); err != nil && !errors.Is(err, ErrClosed) {
			s.log.Debug().Err(err).Msg("error closing connection")
		}

		if wasActive {
			metrics.RoomConnectionsActive.WithLabelValues(s.room.name).Dec()
			metrics.RoomDisconnects.WithLabelValues(s.room.name).Inc()
			_ = s.room.hooks.Dispatch(context.WithoutCancel(s.ctx), EventDisconnect, s.room, s.conn, nil)

			event := s.log.Info().Int("total_connections", s.room.registry.Len())
			if reason != nil && !isNormalClose(reason) {
				event = event.Err(reason)
			}
			event.Msg("connection removed")
		}

		s.room.release(s)
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.room.wg.Done()
	})
}

var errSessionFinished = errors.New("room: session finished")

func isNormalClose(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrRoomClosed) ||
		errors.Is(err, errSessionFinished) ||
		errors.Is(err, context.Canceled)
}
