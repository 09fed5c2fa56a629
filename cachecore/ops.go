package cachecore

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/objcore"
	"github.com/reveno/cachecore/objindex"
	"github.com/reveno/cachecore/policy"
	"github.com/reveno/cachecore/stevedore"
)

// coreKeys maps a live *objcore.Core to the stevedore.Key its body was
// stored under. A core only gets an entry once a fetch actually commits a
// body (CompleteFetch); cores that never get that far (parked waiters,
// failed fetches) never touch storage and never need one.
var (
	coreKeysMu sync.Mutex
	coreKeys   = make(map[*objcore.Core]stevedore.Key)
	nextGen    atomic.Uint64
)

func coreStorageKey(core *objcore.Core) (stevedore.Key, bool) {
	coreKeysMu.Lock()
	defer coreKeysMu.Unlock()
	k, ok := coreKeys[core]
	return k, ok
}

func bindStorageKey(core *objcore.Core, fp [32]byte) stevedore.Key {
	k := stevedore.Key{Fingerprint: fp, Generation: nextGen.Add(1)}
	coreKeysMu.Lock()
	coreKeys[core] = k
	coreKeysMu.Unlock()
	return k
}

func forgetStorageKey(core *objcore.Core) {
	coreKeysMu.Lock()
	delete(coreKeys, core)
	coreKeysMu.Unlock()
}

// Lookup runs policy.LookupPrepare (if set) to derive the digest/vary key
// from req, then resolves it against the object index (spec.md §4.1, §6
// "Consumed from policy engine").
func (c *Cache) Lookup(req any) objindex.LookupOutcome {
	lr := &objindex.LookupRequest{}
	if c.hooks.LookupPrepare != nil {
		if fp, derived := c.hooks.LookupPrepare.LookupPrepare(req); derived != nil {
			*lr = *derived
			lr.Digest = fp
		}
	}
	out := c.Index.Lookup(lr)
	if out.Primary != nil && c.hooks.HitClass != nil {
		classifyHit(out, c.hooks)
	}
	return out
}

// classifyHit lets a policy hook mark a returned primary core HITMISS /
// HITPASS after the fact, for hooks that decide cacheability from response
// headers the core already carries rather than up front.
func classifyHit(out objindex.LookupOutcome, hooks policy.Hooks) {
	if hooks.HitClass.IsHitMiss(out.Primary) {
		out.Primary.SetFlag(objcore.HitMiss)
	}
	if hooks.HitClass.IsHitPass(out.Primary) {
		out.Primary.SetFlag(objcore.HitPass)
	}
}

// FetchResult carries what a completed backend fetch produced, for
// CompleteFetch to publish into storage and the index together.
type FetchResult struct {
	Body   []byte
	Attrs  map[string]string
	TTL    time.Duration
	Grace  time.Duration
	Keep   time.Duration
	Failed bool
}

// CompleteFetch finishes the BUSY core a Lookup MISS/MISS_EXP/HITMISS
// returned: on success it stores the body and attrs, arms the core's TTL
// timers, and publishes it via Unbusy; on failure it marks the core FAILED
// before publishing, so every parked waiter is rushed per SPEC_FULL §6 Open
// Question 3.
func (c *Cache) CompleteFetch(core *objcore.Core, fp [32]byte, res FetchResult) error {
	if res.Failed {
		core.SetFlag(objcore.Failed)
		core.BuildError = "fetch failed"
		c.Index.Unbusy(core)
		return nil
	}

	key := bindStorageKey(core, fp)
	if err := c.store.Put(key, res.Body, res.Attrs); err != nil {
		core.SetFlag(objcore.Failed)
		core.BuildError = err.Error()
		c.Index.Unbusy(core)
		if errors.Is(err, stevedore.ErrOutOfSpace) {
			c.reclaimSpace(1)
		}
		return err
	}

	core.TOrigin = c.clk.Now()
	core.TTL, core.Grace, core.Keep = res.TTL, res.Grace, res.Keep
	c.Index.Unbusy(core)
	return nil
}

// reclaimSpace asks the index to nuke up to n globally-oldest non-busy
// cores, draining their storage too, in response to a stevedore reporting
// ErrOutOfSpace (SPEC_FULL §5 "storage_lru.c's nuke-on-pressure path").
func (c *Cache) reclaimSpace(n int) int {
	freed := 0
	for i := 0; i < n; i++ {
		core := c.Index.NukeOldest(64)
		if core == nil {
			break
		}
		c.releaseStorage(core, "event", "nuke")
		forgetStorageKey(core)
		freed++
	}
	return freed
}

// CommitBan commits bld against the ban list, notifying persistence if
// configured (spec.md §4.2, §6 "ban_info_new").
func (c *Cache) CommitBan(bld *ban.Builder) (*ban.Ban, error) {
	b, err := c.Bans.Commit(bld, float64(c.clk.Now().UnixNano())/1e9)
	if err != nil {
		return nil, err
	}
	if c.Notifier != nil {
		c.Notifier.NotifyCommitted(b)
	}
	return b, nil
}

// CancelBan marks b completed and notifies persistence, mirroring
// CommitBan (SPEC_FULL §5 "ban.cancel").
func (c *Cache) CancelBan(b *ban.Ban) {
	c.Bans.Cancel(b)
	if c.Notifier != nil {
		c.Notifier.NotifyReaped(b)
	}
}
