package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/gorooms/internal/metrics"
)

// DefaultSendTimeout bounds a single delivery attempt when Options leaves it unset.
const DefaultSendTimeout = 5 * time.Second

// Delivery is the aggregated outcome of one push.
type Delivery struct {
	// Delivered lists recipients whose Send returned nil.
	Delivered []Conn
	// Failed lists recipients whose Send failed or timed out. The Room evicts them.
	Failed []*DeliveryError
	// Aborted lists recipients whose attempt was cut short because the
	// caller's context ended; they are not evicted.
	Aborted []Conn
}

// OK reports whether every attempted recipient got the payload.
func (d Delivery) OK() bool {
	return len(d.Failed) == 0 && len(d.Aborted) == 0
}

// Broadcaster fans one message out to a snapshot, one goroutine per
// recipient, each bounded by the send timeout.
type Broadcaster struct {
	name    string
	timeout time.Duration
}

// NewBroadcaster returns a broadcaster whose attempts last at most timeout.
func NewBroadcaster(name string, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Broadcaster{name: name, timeout: timeout}
}

// Push delivers msg to every member of snap except exclude (which may be nil).
// It returns once every attempt has completed or timed out.
func (b *Broadcaster) Push(ctx context.Context, snap Snapshot, msg Message, exclude Conn) Delivery {
	started := time.Now()
	defer metrics.ObservePush(b.name, started)

	targets := make([]Conn, 0, snap.Len())
	for c := range snap.All() {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		targets = append(targets, c)
	}

	results := make([]error, len(targets))
	if len(targets) == 1 {
		results[0] = b.send(ctx, targets[0], msg)
	} else {
		var wg sync.WaitGroup
		wg.Add(len(targets))
		for i, c := range targets {
			go func() {
				defer wg.Done()
				results[i] = b.send(ctx, c, msg)
			}()
		}
		wg.Wait()
	}

	var d Delivery
	for i, c := range targets {
		switch err := results[i]; {
		case err == nil:
			d.Delivered = append(d.Delivered, c)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			d.Aborted = append(d.Aborted, c)
		default:
			d.Failed = append(d.Failed, &DeliveryError{Conn: c, Err: err})
		}
	}

	metrics.RecordDeliveries(b.name, len(d.Delivered), len(d.Failed), len(d.Aborted))
	return d
}

// send runs one attempt bounded by the send timeout. A Send that ignores ctx
// is abandoned at the deadline and returns once the evicted connection is
// closed. A panicking transport counts as a failed delivery.
func (b *Broadcaster) send(ctx context.Context, c Conn, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result <- fmt.Errorf("send panicked: %v", p)
			}
		}()
		result <- c.Send(sendCtx, msg)
	}()

	select {
	case err := <-result:
		return err
	case <-sendCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("send timed out after %s: %w", b.timeout, sendCtx.Err())
	}
}
