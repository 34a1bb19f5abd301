// Package streamid implements the stream-id allocation discipline (C2):
// parity per role, monotonic allocation, no reuse.
package streamid

import (
	"github.com/gostdlib/base/concurrency/sync"
)

// Role determines the starting id and parity of a side of a connection.
type Role int

const (
	// Caller-initiated ids are odd, starting at 1.
	Caller Role = iota
	// Responder-initiated ids are even, starting at 2.
	Responder
)

// Allocator generates unique stream ids with parity discipline and tracks
// the set of currently active ones (spec §4.2).
type Allocator struct {
	mu     sync.Mutex
	nextID uint32
	active map[uint32]struct{}
}

// New creates an Allocator for the given role.
func New(role Role) *Allocator {
	start := uint32(1)
	if role == Responder {
		start = 2
	}
	return &Allocator{
		nextID: start,
		active: make(map[uint32]struct{}),
	}
}

// Next allocates and activates the next id in sequence.
func (a *Allocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID += 2
	a.active[id] = struct{}{}
	return id
}

// Release deactivates id. Idempotent: calling it twice has the same
// observable effect as once (spec invariant 8).
func (a *Allocator) Release(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id)
}

// IsActive reports whether id is currently tracked as active.
func (a *Allocator) IsActive(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[id]
	return ok
}

// ActiveCount returns the number of currently active ids.
func (a *Allocator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Observe registers an externally-assigned id (e.g. one the responder
// learned about from an inbound frame) as active, without consuming a slot
// from this allocator's own sequence. No package in this module calls it:
// the responder tracks caller-initiated streams in registry.StreamRegistry.
func (a *Allocator) Observe(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[id] = struct{}{}
}
