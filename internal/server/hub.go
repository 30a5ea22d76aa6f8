package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/room"
)

// Hub owns the rooms served by this process and closes them together on
// shutdown.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room.Room
	order []string
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room.Room)}
}

// Add registers r under its name.
func (h *Hub) Add(r *room.Room) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[r.Name()]; exists {
		return fmt.Errorf("room %q already registered", r.Name())
	}
	h.rooms[r.Name()] = r
	h.order = append(h.order, r.Name())
	return nil
}

// Room looks a room up by name.
func (h *Hub) Room(name string) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	return r, ok
}

// Rooms returns the rooms in registration order.
func (h *Hub) Rooms() []*room.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*room.Room, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.rooms[name])
	}
	return out
}

// ConnectionCount sums the Active connections of every room.
func (h *Hub) ConnectionCount() int {
	total := 0
	for _, r := range h.Rooms() {
		total += r.ConnectionCount()
	}
	return total
}

// RunWithContext blocks until ctx is canceled, then closes every room within
// timeout.
func (h *Hub) RunWithContext(ctx context.Context, timeout time.Duration) error {
	<-ctx.Done()
	if err := h.Shutdown(timeout); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes all rooms concurrently and waits up to timeout for their
// disconnect hooks.
func (h *Hub) Shutdown(timeout time.Duration) error {
	rooms := h.Rooms()
	logging.Info().Int("rooms", len(rooms)).Int("connections", h.ConnectionCount()).Msg("shutting down rooms")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errs := make([]error, len(rooms))
	var wg sync.WaitGroup
	for i, r := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Close(ctx); err != nil {
				errs[i] = fmt.Errorf("close room %q: %w", r.Name(), err)
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		logging.Warn().Err(err).Msg("room shutdown incomplete")
		return err
	}
	logging.Info().Msg("all rooms closed")
	return nil
}
