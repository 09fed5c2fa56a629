package objindex

import (
	"sync"
	"time"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

// AttrSource is the minimal get_attr surface ban tests need against a
// specific object core (spec.md §6 "Consumed from stevedore: get_attr(core,
// attr) -> bytes | null"), injected so objindex never imports the storage
// layer directly.
type AttrSource func(core *objcore.Core, name string) (string, bool)

// ExpiryEngine is the subset of *expiry.Engine the index drives. Declared
// here (rather than imported as a concrete type) so the index can be tested
// against a fake without constructing a real engine goroutine.
type ExpiryEngine interface {
	RefNewObjcore(core *objcore.Core)
	Insert(core *objcore.Core)
	Remove(core *objcore.Core)
	Rearm(core *objcore.Core, ttl, grace, keep time.Duration)
	Reduce(core *objcore.Core, ttl, grace, keep time.Duration)
}

// Config tunes index behavior.
type Config struct {
	// RushExponent bounds how many parked waiters are rescheduled on a
	// successful unbusy (spec.md §4.1 "Coalescing"). A failed/dying busy
	// core instead wakes every waiter (SPEC_FULL §6 Open Question 3), which
	// callers get by passing math.MaxInt nowhere — Unbusy itself detects
	// FAILED/DYING and overrides the configured exponent.
	RushExponent int
	// DegradedHash enables the fingerprint collision prober (spec.md §4.1
	// "Fingerprint collision probing").
	DegradedHash bool
}

func (c Config) withDefaults() Config {
	if c.RushExponent <= 0 {
		c.RushExponent = 3
	}
	return c
}

// Index is the concurrent fingerprint-to-object-head map plus the
// operations that manage object core lifecycle across it.
type Index struct {
	cfg Config
	clk clock.Clock
	log corelog.Logger

	bans   *ban.List
	expiry ExpiryEngine
	attrs  AttrSource
	prober *digest.Prober
	lru    *lru

	mu    sync.RWMutex
	heads map[digest.Fingerprint]*objcore.Head
}

// New constructs an Index bound to the given ban list and expiry engine. A
// nil attrs reports every attribute absent, which is sufficient for index
// tests that never exercise obj.http ban predicates.
func New(cfg Config, clk clock.Clock, log corelog.Logger, bans *ban.List, expiry ExpiryEngine, attrs AttrSource) *Index {
	cfg = cfg.withDefaults()
	if attrs == nil {
		attrs = func(*objcore.Core, string) (string, bool) { return "", false }
	}
	return &Index{
		cfg:    cfg,
		clk:    clk,
		log:    log,
		bans:   bans,
		expiry: expiry,
		attrs:  attrs,
		prober: digest.NewProber(cfg.DegradedHash),
		lru:    newLRU(),
		heads:  make(map[digest.Fingerprint]*objcore.Head),
	}
}

// getOrCreateHead returns the head for fp, creating and indexing an empty
// one if none exists, and bumps its refcount on behalf of the caller's
// outstanding lookup (spec.md §3 "Object head... refcount incremented for
// every object core it contains plus outstanding lookups").
func (idx *Index) getOrCreateHead(fp digest.Fingerprint) *objcore.Head {
	idx.mu.RLock()
	h, ok := idx.heads[fp]
	idx.mu.RUnlock()
	if ok {
		h.Ref()
		return h
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if h, ok = idx.heads[fp]; ok {
		h.Ref()
		return h
	}
	h = objcore.NewHead(fp)
	idx.heads[fp] = h
	h.Ref()
	return h
}

// releaseHead derefs h and unlinks it from the index if that was the last
// reference.
func (idx *Index) releaseHead(h *objcore.Head) {
	if !h.Deref() {
		return
	}
	idx.mu.Lock()
	if cur, ok := idx.heads[h.Digest]; ok && cur == h {
		delete(idx.heads, h.Digest)
	}
	idx.mu.Unlock()
}

// HeadCount reports how many fingerprints are currently indexed, used by
// tests and stats.
func (idx *Index) HeadCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.heads)
}
