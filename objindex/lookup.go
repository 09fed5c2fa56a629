package objindex

import (
	"bytes"
	"time"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/objcore"
)

// LookupRequest carries the attributes policy's lookup_prepare hook derives
// from an incoming request (spec.md §6 "Consumed from policy engine").
type LookupRequest struct {
	Digest digest.Fingerprint
	Vary   []byte

	IgnoreBusy     bool
	IgnoreVary     bool
	AlwaysMiss     bool
	HashAlwaysMiss bool

	ReqTTL   *time.Duration
	ReqGrace *time.Duration

	// Req carries request attributes ban tests of kind req.url/req.http
	// need; nil if the caller has none to offer (e.g. a background refetch
	// kicked off from GRACE has no live request).
	Req *ban.RequestContext

	// FetchedBy identifies the caller for BusyState.FetchedBy when this
	// lookup becomes the fetcher (MISS/MISS_EXP/HITMISS).
	FetchedBy any
}

// LookupOutcome is Lookup's result (spec.md §4.1 "Lookup(request) ->
// (result, primary core, busy core)").
type LookupOutcome struct {
	Result Result

	// Primary is set for HIT, HITMISS, HITPASS, and GRACE: the core the
	// caller should serve from (its refcount has been bumped).
	Primary *objcore.Core

	// Busy is set for MISS, MISS_EXP, and HITMISS: the newly inserted BUSY
	// core the caller now owns as sole fetcher. For GRACE it is the refetch
	// core this lookup inserted, or nil if a refetch was already in flight;
	// for BUSY it is the in-flight core the caller is parked on.
	Busy *objcore.Core

	// Wait is set only for BUSY: the caller parks here and, on receipt,
	// retries Lookup from scratch (spec.md §4.1 "Coalescing").
	Wait <-chan objcore.LookupSignal
}

// Lookup resolves fp/vary against the index (spec.md §4.1).
func (idx *Index) Lookup(req *LookupRequest) LookupOutcome {
	now := idx.clk.Now()
	fp := idx.prober.Remap(req.Digest)
	head := idx.getOrCreateHead(fp)

	head.Mu.Lock()

	if req.AlwaysMiss || req.HashAlwaysMiss {
		return idx.insertBusyLocked(head, req, MISS)
	}

	var primary, fallback *objcore.Core
	sawExpired := false
	for _, core := range head.Cores {
		if core.HasFlag(objcore.Dying | objcore.Failed) {
			continue
		}
		if core.HasFlag(objcore.Busy) {
			if !req.IgnoreBusy && idx.varyMatches(core, req) {
				return idx.parkOnBusy(head, core, req)
			}
			continue
		}
		if !req.IgnoreVary && !idx.varyMatches(core, req) {
			continue
		}

		kill, newRef := idx.bans.EvaluateCore(core.Ban, idx.objContext(core, now))
		if kill {
			idx.killLocked(head, core)
			continue
		}
		if newRef != nil && newRef != core.Ban {
			idx.swapBanRef(core, newRef)
		}

		ttl, grace := core.TTL, core.Grace
		if req.ReqTTL != nil {
			ttl = *req.ReqTTL
		}
		if req.ReqGrace != nil {
			grace = *req.ReqGrace
		}
		age := now.Sub(core.TOrigin)
		switch {
		case core.HasFlag(objcore.HitMiss):
			if primary == nil {
				primary = core
			}
		case core.HasFlag(objcore.HitPass):
			if primary == nil {
				primary = core
			}
		case age <= ttl:
			if primary == nil {
				primary = core
			}
		case age <= ttl+grace:
			if fallback == nil {
				fallback = core
			}
		default:
			sawExpired = true
		}
	}

	switch {
	case primary != nil && primary.HasFlag(objcore.HitPass):
		primary.Ref()
		head.Mu.Unlock()
		return LookupOutcome{Result: HITPASS, Primary: primary}

	case primary != nil && primary.HasFlag(objcore.HitMiss):
		primary.Ref()
		out := idx.insertBusyLocked(head, req, HITMISS)
		out.Primary = primary
		return out

	case primary != nil:
		primary.Ref()
		primary.Touch(now)
		idx.lru.touch(primary)
		head.Mu.Unlock()
		return LookupOutcome{Result: HIT, Primary: primary}

	case fallback != nil:
		fallback.Ref()
		fallback.Touch(now)
		idx.lru.touch(fallback)
		if idx.headHasBusyFetch(head) {
			head.Mu.Unlock()
			return LookupOutcome{Result: GRACE, Primary: fallback}
		}
		// No busy refetch exists yet: insert one before releasing head.Mu,
		// so two requests hitting GRACE concurrently can't both decide "no
		// refetch in flight" and each start their own (spec.md §8 invariant
		// 1; scenario 2's GRACE-refetch coalescing).
		refetch := idx.insertBusyLocked(head, req, MISS)
		return LookupOutcome{Result: GRACE, Primary: fallback, Busy: refetch.Busy}

	default:
		if sawExpired {
			return idx.insertBusyLocked(head, req, MissExp)
		}
		return idx.insertBusyLocked(head, req, MISS)
	}
}

// varyMatches reports whether core's stored Vary key matches the request's,
// honoring IgnoreVary (checked by the caller before calling this).
func (idx *Index) varyMatches(core *objcore.Core, req *LookupRequest) bool {
	if core.VaryKey == nil && req.Vary == nil {
		return true
	}
	return bytes.Equal(core.VaryKey, req.Vary)
}

func (idx *Index) headHasBusyFetch(head *objcore.Head) bool {
	for _, core := range head.Cores {
		if core.HasFlag(objcore.Busy) {
			return true
		}
	}
	return false
}

// parkOnBusy appends the caller to core's waiting list and releases the
// head mutex (spec.md §4.1 "Coalescing": "the request is parked, not the OS
// thread").
func (idx *Index) parkOnBusy(head *objcore.Head, core *objcore.Core, req *LookupRequest) LookupOutcome {
	ch := make(chan objcore.LookupSignal, 1)
	core.Waiting = append(core.Waiting, ch)
	head.Mu.Unlock()
	return LookupOutcome{Result: BUSY, Busy: core, Wait: ch}
}

// insertBusyLocked inserts a fresh BUSY core for req and returns it as the
// caller's fetch (MISS/MISS_EXP/HITMISS/GRACE-refetch paths). head.Mu must
// already be held by the caller, from the same acquisition that classified
// the head's existing cores; insertBusyLocked releases it before returning.
// Folding the "no busy core found" decision and the busy-core insert into
// one unbroken critical section is what stops two concurrent lookups on a
// cold fingerprint from each inserting their own BUSY core (spec.md §8
// invariant 1, "at most one worker thread references C as 'my fetch'"),
// mirroring cache_hash.c's HSH_Lookup holding oh->mtx across
// hsh_objhead_lookup and hsh_insert_busyobj.
func (idx *Index) insertBusyLocked(head *objcore.Head, req *LookupRequest, result Result) LookupOutcome {
	core := objcore.NewCore(head)
	core.VaryKey = req.Vary
	core.Busy = objcore.NewBusyState(req.FetchedBy)
	idx.expiry.RefNewObjcore(core)

	head.Cores = append([]*objcore.Core{core}, head.Cores...)
	head.Mu.Unlock()

	return LookupOutcome{Result: result, Busy: core}
}

func (idx *Index) objContext(core *objcore.Core, now time.Time) *ban.ObjectContext {
	return &ban.ObjectContext{
		Headers: func(name string) (string, bool) { return idx.attrs(core, name) },
		Now:     now,
		Core:    core,
	}
}

// swapBanRef replaces core's ban pointer with newRef, dropping the old
// reference (if any) since EvaluateCore already pinned newRef on the
// caller's behalf.
func (idx *Index) swapBanRef(core *objcore.Core, newRef objcore.BanRef) {
	core.BanMu.Lock()
	old := core.Ban
	core.Ban = newRef
	core.BanMu.Unlock()
	if refOld, ok := old.(interface{ Deref() int32 }); ok {
		refOld.Deref()
	}
}
