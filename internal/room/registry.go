package room

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// membership is an immutable member list. A new value is published on every
// mutation, so a loaded pointer can be iterated without locking.
type membership struct {
	order []Conn
	index map[string]int
}

var emptyMembership = &membership{index: map[string]int{}}

// Registry is the authoritative set of Active connections of a Room.
// Writers are serialized by mu; readers load the current membership
// atomically and never block.
type Registry struct {
	mu      sync.Mutex
	members atomic.Pointer[membership]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.members.Store(emptyMembership)
	return r
}

func (r *Registry) load() *membership {
	if m := r.members.Load(); m != nil {
		return m
	}
	return emptyMembership
}

// Add appends c. It fails with ErrDuplicateConnection if c's identity is
// already present.
func (r *Registry) Add(c Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	if _, exists := cur.index[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID())
	}

	next := &membership{
		order: make([]Conn, len(cur.order), len(cur.order)+1),
		index: make(map[string]int, len(cur.order)+1),
	}
	copy(next.order, cur.order)
	for id, i := range cur.index {
		next.index[id] = i
	}
	next.index[c.ID()] = len(next.order)
	next.order = append(next.order, c)

	r.members.Store(next)
	return nil
}

// Remove drops c and reports whether it was present. Removing an absent
// connection is a no-op.
func (r *Registry) Remove(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	pos, exists := cur.index[c.ID()]
	if !exists {
		return false
	}

	next := &membership{
		order: make([]Conn, 0, len(cur.order)-1),
		index: make(map[string]int, len(cur.order)-1),
	}
	next.order = append(next.order, cur.order[:pos]...)
	next.order = append(next.order, cur.order[pos+1:]...)
	for i, member := range next.order {
		next.index[member.ID()] = i
	}

	r.members.Store(next)
	return true
}

// Contains reports whether c's identity is registered.
func (r *Registry) Contains(c Conn) bool {
	_, ok := r.load().index[c.ID()]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.load().order)
}

// Snapshot returns the membership as of now, in insertion order.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{m: r.load()}
}

// Snapshot is a point-in-time, read-only view of a Registry. Later mutations
// of the registry are not visible through it.
type Snapshot struct {
	m *membership
}

// Len returns the number of connections in the snapshot.
func (s Snapshot) Len() int {
	if s.m == nil {
		return 0
	}
	return len(s.m.order)
}

// Contains reports whether c's identity is part of the snapshot.
func (s Snapshot) Contains(c Conn) bool {
	if s.m == nil {
		return false
	}
	_, ok := s.m.index[c.ID()]
	return ok
}

// Conns returns a copy of the members.
func (s Snapshot) Conns() []Conn {
	if s.m == nil {
		return nil
	}
	out := make([]Conn, len(s.m.order))
	copy(out, s.m.order)
	return out
}

// All iterates the members in insertion order.
func (s Snapshot) All() iter.Seq[Conn] {
	return func(yield func(Conn) bool) {
		if s.m == nil {
			return
		}
		for _, c := range s.m.order {
			if !yield(c) {
				return
			}
		}
	}
}
