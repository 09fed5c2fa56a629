package objindex

import (
	"time"

	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/objcore"
)

// Insert publishes a precreated core (e.g. loaded from persistence) into
// the index under fp with the given ban reference (spec.md §4.1
// "Insert(digest, core, ban)").
func (idx *Index) Insert(fp digest.Fingerprint, core *objcore.Core, banRef objcore.BanRef) {
	head := idx.getOrCreateHead(fp)
	core.Head = head

	core.BanMu.Lock()
	core.Ban = banRef
	core.BanMu.Unlock()

	head.Mu.Lock()
	head.Cores = append([]*objcore.Core{core}, head.Cores...)
	head.Mu.Unlock()

	idx.expiry.RefNewObjcore(core)
	idx.expiry.Insert(core)
	idx.lru.touch(core)
}

// Unbusy clears BUSY, moves core to the head of its head's sequence,
// attaches a ban reference if core doesn't already have one, notifies the
// expiry engine, and rushes a bounded number of waiters (spec.md §4.1
// "Unbusy(core)").
func (idx *Index) Unbusy(core *objcore.Core) {
	head := core.Head

	head.Mu.Lock()
	core.ClearFlag(objcore.Busy)
	moveToFront(head, core)

	core.BanMu.Lock()
	if core.Ban == nil {
		// idx.bans.Head() returns a concrete *ban.Ban; check it for nil
		// before boxing it into the BanRef interface, otherwise an empty
		// list would leave core.Ban holding a non-nil interface wrapping a
		// nil pointer (the classic typed-nil trap) instead of a true nil.
		if head := idx.bans.Head(); head != nil {
			core.Ban = head
		}
	}
	core.BanMu.Unlock()

	failed := core.HasFlag(objcore.Failed | objcore.Dying)
	waiters := core.Waiting
	core.Waiting = nil
	head.Mu.Unlock()

	idx.expiry.Insert(core)
	idx.lru.touch(core)

	idx.rush(waiters, failed)
}

// moveToFront repositions core at the front of head.Cores ("most-recently-
// unbusied first", spec.md §3). Must be called with head.Mu held.
func moveToFront(head *objcore.Head, core *objcore.Core) {
	for i, c := range head.Cores {
		if c == core {
			head.Cores = append(head.Cores[:i], head.Cores[i+1:]...)
			break
		}
	}
	head.Cores = append([]*objcore.Core{core}, head.Cores...)
}

// rush reschedules up to idx.cfg.RushExponent waiters, or every waiter if
// the busy core that just published failed (SPEC_FULL §6 Open Question 3:
// a failed/dying core wakes all waiters unconditionally because each must
// retry and none can be "the lucky one" that observes a servable result).
func (idx *Index) rush(waiters []chan objcore.LookupSignal, failed bool) {
	n := len(waiters)
	if !failed && n > idx.cfg.RushExponent {
		n = idx.cfg.RushExponent
	}
	for i := 0; i < n; i++ {
		select {
		case waiters[i] <- objcore.LookupSignal{}:
		default:
		}
	}
}

// Kill marks core DYING under the head mutex and notifies expiry to remove
// it (spec.md §4.1 "Kill(core)").
func (idx *Index) Kill(core *objcore.Core) {
	core.Head.Mu.Lock()
	idx.killLocked(core.Head, core)
	core.Head.Mu.Unlock()
}

// killLocked is Kill's body for callers that already hold head.Mu.
func (idx *Index) killLocked(head *objcore.Head, core *objcore.Core) {
	if core.HasFlag(objcore.Dying) {
		return
	}
	core.SetFlag(objcore.Dying)
	idx.expiry.Remove(core)
	idx.lru.remove(core)
}

// Snipe attempts a non-blocking acquisition of core's head mutex and, if
// the core's refcount is exactly one (only the LRU holds it), marks it
// DYING (spec.md §4.1 "Snipe(core)"). Returns whether it succeeded.
func (idx *Index) Snipe(core *objcore.Core) bool {
	if !core.Head.Mu.TryLock() {
		return false
	}
	defer core.Head.Mu.Unlock()
	if core.Refcount() != 1 {
		return false
	}
	idx.killLocked(core.Head, core)
	return true
}

// NukeOldest walks the LRU list from its tail, Snipe-ing candidates until
// one succeeds or maxCandidates have been tried (storage_lru.c-style nuke-on-
// pressure, SPEC_FULL §5 supplemented feature). It returns the nuked core,
// or nil if none could be reclaimed.
func (idx *Index) NukeOldest(maxCandidates int) *objcore.Core {
	for _, core := range idx.lru.oldest(maxCandidates) {
		if idx.Snipe(core) {
			return core
		}
	}
	return nil
}

// Purge iterates head's cores and rearms each with the given reduced
// timers (spec.md §4.1 "Purge(head, ttl, grace, keep)"). The iteration
// drops and reacquires the mutex every purgeBatch cores, pinning the next
// batch's refcounts first, so a long-lived head doesn't starve Lookup.
const purgeBatch = 32

func (idx *Index) Purge(head *objcore.Head, ttl, grace, keep time.Duration) int {
	n := 0
	start := 0
	for {
		head.Mu.Lock()
		if start >= len(head.Cores) {
			head.Mu.Unlock()
			return n
		}
		end := start + purgeBatch
		if end > len(head.Cores) {
			end = len(head.Cores)
		}
		batch := make([]*objcore.Core, end-start)
		copy(batch, head.Cores[start:end])
		for _, c := range batch {
			c.Ref()
		}
		head.Mu.Unlock()

		for _, c := range batch {
			if !c.HasFlag(objcore.Busy) {
				idx.expiry.Rearm(c, ttl, grace, keep)
				n++
			}
			c.Deref()
		}
		start = end
	}
}
