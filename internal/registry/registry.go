// Package registry implements the handle table that backs every
// outstanding Request: a dense slice of optional slots plus a
// free-list, so that handles stay stable and reusable in O(1) without
// ever perturbing a live neighbor's handle value.
package registry

import "github.com/behrlich/mpigo/internal/message"

// Registry is a dense vector of optional message.Message slots. A
// Handle is simply an index into that vector; once issued, a handle
// refers to the same slot until Remove is called for it, even as
// other slots are added and removed around it.
type Registry struct {
	slots []message.Message
	free  []int
}

// Handle is an opaque index into a Registry.
type Handle int

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add inserts msg and returns its handle, reusing the most recently
// freed slot if one exists.
func (r *Registry) Add(msg message.Message) Handle {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx] = msg
		return Handle(idx)
	}
	r.slots = append(r.slots, msg)
	return Handle(len(r.slots) - 1)
}

// Get returns the message at h, or false if h is out of range or has
// already been removed.
func (r *Registry) Get(h Handle) (message.Message, bool) {
	if int(h) < 0 || int(h) >= len(r.slots) {
		return nil, false
	}
	m := r.slots[h]
	return m, m != nil
}

// Remove frees h's slot for reuse by a future Add. Removing an
// already-empty or out-of-range handle is a no-op.
func (r *Registry) Remove(h Handle) {
	if int(h) < 0 || int(h) >= len(r.slots) || r.slots[h] == nil {
		return
	}
	r.slots[h] = nil
	r.free = append(r.free, int(h))
}

// Len reports the number of live (non-removed) entries.
func (r *Registry) Len() int {
	n := 0
	for _, m := range r.slots {
		if m != nil {
			n++
		}
	}
	return n
}
