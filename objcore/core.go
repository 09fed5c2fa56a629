package objcore

import (
	"sync"
	"sync/atomic"
	"time"
)

// BanRef is the weak pointer an object core holds to the ban that was head
// of the ban list when the core was inserted (spec.md §3 "Ban"). It is
// implemented by *ban.Ban; objcore cannot import the ban package (ban
// imports objcore), so the relationship is expressed as an interface.
type BanRef interface {
	// Timestamp is the ban's monotonic creation time, used to compare
	// "newer than" when walking the ban list forward from a core's pointer.
	Timestamp() float64
}

// Core is one cached representation of a fingerprint: one Vary variant
// (spec.md §3 "Object core").
type Core struct {
	Head *Head

	flags    FlagBits
	expFlags FlagBits

	refcount atomic.Int32

	// BanMu guards Ban; it is a separate, finer-grained lock than Head.Mu
	// because the ban lurker updates Ban while only try-locking Head.Mu
	// (spec.md §4.1 "Locking discipline": the reverse order, lurker wanting
	// the object head, uses try-lock).
	BanMu sync.Mutex
	Ban   BanRef

	// TTL attributes (spec.md §3). TOrigin is absolute; TTL/Grace/Keep are
	// durations relative to TOrigin.
	TOrigin time.Time
	TTL     time.Duration
	Grace   time.Duration
	Keep    time.Duration

	HitCount atomic.Uint64
	lruMu    sync.Mutex
	lru      time.Time

	VaryKey []byte // opaque, policy-selected Vary comparison key

	// Waiting holds requests parked on this core while it is BUSY
	// (spec.md §4.1 "Coalescing"). Guarded by Head.Mu.
	Waiting []chan LookupSignal

	// Busy holds the in-progress fetch's side-structure while BUSY is set;
	// nil otherwise (spec.md §3 "busy-object side-structure").
	Busy *BusyState

	// ExpiryHeapIndex lets the expiry engine perform O(log n) reorder and
	// delete; NoHeapIndex means "not currently on the heap". Touched only
	// by the expiry engine goroutine.
	ExpiryHeapIndex int

	// TimerWhen is the heap key, t_origin+ttl+grace+keep (SPEC_FULL §6
	// Open Question 1). The expiry engine's Insert/Rearm/Reduce set it on
	// the caller's goroutine; the engine loop reads it.
	TimerWhen time.Time

	// BuildError records a fetch failure (spec.md §7 "Fetch failure").
	BuildError string
}

// NoHeapIndex marks a core that is not currently tracked by the expiry heap.
const NoHeapIndex = -1

// NewCore allocates a core with refcount 1, owned by the caller, attached to
// head but not yet appended to head.Cores (the caller does that under
// head.Mu so head and core construction stay consistent with spec.md §3's
// "created BUSY during MISS" lifecycle).
func NewCore(head *Head) *Core {
	c := &Core{Head: head, ExpiryHeapIndex: NoHeapIndex}
	c.refcount.Store(1)
	c.flags.Set(uint32(Busy))
	c.expFlags.Set(uint32(ExpNew))
	return c
}

// Flags returns the current object-core flags.
func (c *Core) Flags() Flags { return Flags(c.flags.Load()) }

// HasFlag reports whether every bit in mask is set.
func (c *Core) HasFlag(mask Flags) bool { return c.flags.Has(uint32(mask)) }

// SetFlag ORs mask into the flag register. Callers mutating BUSY, DYING, or
// CANCEL must hold Head.Mu (spec.md §4.1 "Locking discipline").
func (c *Core) SetFlag(mask Flags) { c.flags.Set(uint32(mask)) }

// ClearFlag ANDs ^mask into the flag register.
func (c *Core) ClearFlag(mask Flags) { c.flags.Clear(uint32(mask)) }

// ExpFlagsGet returns the current expiry-engine flag bits.
func (c *Core) ExpFlagsGet() ExpFlags { return ExpFlags(c.expFlags.Load()) }

// SetExpFlag ORs mask into the expiry flag register. The update is atomic;
// the expiry engine sets these bits both from its callers' goroutines
// (Insert, Remove, Rearm) and from its own loop.
func (c *Core) SetExpFlag(mask ExpFlags) { c.expFlags.Set(uint32(mask)) }

// ClearExpFlag ANDs ^mask into the expiry flag register.
func (c *Core) ClearExpFlag(mask ExpFlags) { c.expFlags.Clear(uint32(mask)) }

// Ref increments the core's independent reference count.
func (c *Core) Ref() int32 { return c.refcount.Add(1) }

// Deref decrements the core's reference count and reports the count after
// decrementing; callers free/destroy the core's content when it reaches 0.
func (c *Core) Deref() int32 {
	n := c.refcount.Add(-1)
	if n < 0 {
		panic("objcore: core refcount underflow")
	}
	return n
}

// Refcount returns a point-in-time snapshot of the reference count, used by
// Snipe (spec.md §4.1) to check "only the LRU holds it".
func (c *Core) Refcount() int32 { return c.refcount.Load() }

// LRU returns the last-hit timestamp used for LRU ordering.
func (c *Core) LRU() time.Time {
	c.lruMu.Lock()
	defer c.lruMu.Unlock()
	return c.lru
}

// Touch updates the LRU timestamp and bumps the hit counter, called on every
// HIT (spec.md §3 "a hit counter and an LRU timestamp").
func (c *Core) Touch(now time.Time) {
	c.HitCount.Add(1)
	c.lruMu.Lock()
	c.lru = now
	c.lruMu.Unlock()
}

// LookupSignal is delivered to a parked waiter on rush (spec.md §4.1
// "Coalescing"): it carries nothing but a wakeup; the woken goroutine
// re-runs Lookup from scratch, exactly as the spec requires ("each, on
// wake, retries Lookup from scratch").
type LookupSignal struct{}

// BusyState is the in-progress fetch's side structure (spec.md §3), kept
// reference-counted separately from its Core because transport code may
// retain a pointer to the in-flight fetch after the Core itself has been
// superseded.
type BusyState struct {
	refcount atomic.Int32

	// FetchedBy is an opaque request/worker descriptor identifying the
	// sole fetcher, used to enforce invariant 1 ("at most one worker
	// thread references C as 'my fetch' at any time").
	FetchedBy any
}

// NewBusyState constructs a BusyState with refcount 1.
func NewBusyState(fetchedBy any) *BusyState {
	b := &BusyState{FetchedBy: fetchedBy}
	b.refcount.Store(1)
	return b
}

func (b *BusyState) Ref() int32   { return b.refcount.Add(1) }
func (b *BusyState) Deref() int32 { return b.refcount.Add(-1) }
