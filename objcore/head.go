// Package objcore holds the shared data model for the object index: the
// object head, object core, waiting list, and busy-object side structure
// described in spec.md §3. It intentionally contains no lookup, insertion,
// or eviction logic (that lives in objindex) and no ban-matching or expiry
// scheduling logic (ban and expiry import this package, not the reverse),
// so that none of those packages form an import cycle.
package objcore

import (
	"sync"

	"github.com/reveno/cachecore/digest"
)

// Head is the aggregation point for one fingerprint (spec.md §3 "Object
// head"). Its address is stable for as long as it is referenced; it is
// unlinked and destroyed once Refcount drops to zero.
type Head struct {
	Digest digest.Fingerprint

	// Mu guards Cores, Refcount, and each of its cores' Waiting lists.
	// Canonical lock order is Head.Mu -> Ban.Mu (spec.md §4.1 "Locking
	// discipline").
	Mu       sync.Mutex
	Refcount int32

	// Cores is ordered most-recently-unbusied first (spec.md §3).
	Cores []*Core

	// Parked requests (spec.md §4.1 "Coalescing") are not held on the head:
	// each is tracked once, on the specific Core it waits on (Core.Waiting),
	// so that unbusy can rush only the waiters of the core that just
	// published.
}

// NewHead allocates an empty Head for digest fp with one reference held on
// behalf of the caller (mirroring HSH_Lookup allocating a fresh objhead with
// refcount 1 in the original implementation).
func NewHead(fp digest.Fingerprint) *Head {
	return &Head{Digest: fp, Refcount: 1}
}

// Ref increments the head's reference count. Must be called with Mu held.
func (h *Head) ref() { h.Refcount++ }

// Deref decrements the head's reference count and reports whether it
// reached zero (in which case the caller must unlink h from the index).
// Must be called with Mu held.
func (h *Head) deref() bool {
	h.Refcount--
	if h.Refcount < 0 {
		panic("objcore: head refcount underflow")
	}
	return h.Refcount == 0
}

// Ref is the exported, self-locking form of ref, used by callers that don't
// already hold Mu.
func (h *Head) Ref() {
	h.Mu.Lock()
	h.ref()
	h.Mu.Unlock()
}

// Deref is the exported, self-locking form of deref.
func (h *Head) Deref() (zero bool) {
	h.Mu.Lock()
	zero = h.deref()
	h.Mu.Unlock()
	return zero
}
