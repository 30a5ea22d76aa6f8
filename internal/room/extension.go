package room

import "sync"

// Extra attaches auxiliary data to a connection before its before-hooks run.
// Build one with Extension.With.
type Extra func(c Conn)

// forgetter is implemented by every Extension so the Room can drop a
// connection's entries once its disconnect hooks have run.
type forgetter interface {
	forget(id string)
}

// Extension is a side-table of per-connection values keyed by connection
// identity. Several extensions of different types can coexist on one Room.
type Extension[T any] struct {
	name string

	mu     sync.RWMutex
	values map[string]T
}

// NewExtension creates a side-table bound to r. Entries are removed
// automatically when a connection leaves r.
func NewExtension[T any](r *Room, name string) *Extension[T] {
	e := &Extension[T]{name: name, values: make(map[string]T)}
	r.addExtension(e)
	return e
}

// Name returns the label given at construction.
func (e *Extension[T]) Name() string {
	return e.name
}

// Get returns the value stored for c.
func (e *Extension[T]) Get(c Conn) (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[c.ID()]
	return v, ok
}

// Value returns the value stored for c or the zero value.
func (e *Extension[T]) Value(c Conn) T {
	v, _ := e.Get(c)
	return v
}

// Set stores v for c, replacing any previous value.
func (e *Extension[T]) Set(c Conn, v T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[c.ID()] = v
}

// Delete removes c's value.
func (e *Extension[T]) Delete(c Conn) {
	e.forget(c.ID())
}

// Len returns the number of stored values.
func (e *Extension[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

// With returns an Extra that stores v for the connection being connected.
func (e *Extension[T]) With(v T) Extra {
	return func(c Conn) {
		e.Set(c, v)
	}
}

func (e *Extension[T]) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, id)
}
