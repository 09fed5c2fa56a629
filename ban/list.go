package ban

import (
	"fmt"
	"sync"

	"github.com/reveno/cachecore/objcore"
)

// listNode links one committed Ban into the list's newest-first chain.
type listNode struct {
	ban        *Ban
	next, prev *listNode
}

// List is the monotonic, append-only, newest-first ban list (spec.md §4.2).
// New bans are linked at the head; tail-reaping works from the tail toward
// the head, while the lurker walks a newest-first Snapshot.
type List struct {
	mu   sync.Mutex
	head *listNode // newest
	tail *listNode // oldest

	byTimestamp map[float64]*listNode

	// lastTimestamp enforces strict monotonicity even when the caller's
	// clock doesn't advance between two Commit calls in the same tick
	// (spec.md §3: "timestamp, strictly increasing within the list").
	lastTimestamp float64
}

// NewList constructs an empty ban list.
func NewList() *List {
	return &List{byTimestamp: make(map[float64]*listNode)}
}

// Commit stamps the builder's accumulated tests with a timestamp derived
// from now (nudged forward if necessary to stay strictly increasing),
// links the resulting ban at the head of the list, and cancels any older
// ban found to carry an identical test set (spec.md §4.2 "Deduplication").
// It returns the new head ban.
func (l *List) Commit(bld *Builder, now float64) (*Ban, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := now
	if ts <= l.lastTimestamp {
		ts = l.lastTimestamp + 1e-6
	}
	l.lastTimestamp = ts

	b, err := bld.build(ts)
	if err != nil {
		return nil, err
	}

	n := &listNode{ban: b}
	if l.head != nil {
		n.next = l.head
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.byTimestamp[ts] = n

	if b.hasFlag(FlagNodedup) {
		return b, nil
	}
	for cur := n.next; cur != nil; cur = cur.next {
		if cur.ban.IsCompleted() {
			continue
		}
		if sameTests(cur.ban.tests, b.tests) {
			cur.ban.setFlag(FlagCompleted)
		}
	}
	return b, nil
}

func sameTests(a, b []Test) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Arg != b[i].Arg || a[i].Field != b[i].Field || a[i].Op != b[i].Op ||
			a[i].Literal != b[i].Literal || a[i].Duration != b[i].Duration {
			return false
		}
	}
	return true
}

// Reload links an already-decoded ban (from persistence.Import) at the
// head of the list, preserving its original timestamp instead of stamping
// a fresh one. Callers must reload in oldest-to-newest order so the
// resulting list's head ends up newest, matching the order the bans were
// originally committed in (SPEC_FULL §5 "ban export/import").
func (l *List) Reload(b *Ban) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byTimestamp[b.timestamp]; exists {
		return fmt.Errorf("ban: reload: timestamp %f already present", b.timestamp)
	}
	if b.timestamp <= l.lastTimestamp {
		return fmt.Errorf("ban: reload: timestamp %f out of order (last %f)", b.timestamp, l.lastTimestamp)
	}
	l.lastTimestamp = b.timestamp

	n := &listNode{ban: b}
	if l.head != nil {
		n.next = l.head
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.byTimestamp[b.timestamp] = n
	return nil
}

// Head returns the current newest ban, or nil if the list is empty. Callers
// evaluating a lookup against the ban list start here and walk Next.
func (l *List) Head() *Ban {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return nil
	}
	return l.head.ban
}

// FindByTimestamp returns the ban committed at exactly ts, used by
// ban.cancel's timestamp-addressed form (SPEC_FULL §5 supplemented CLI).
func (l *List) FindByTimestamp(ts float64) (*Ban, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.byTimestamp[ts]
	if !ok {
		return nil, false
	}
	return n.ban, true
}

// AtIndex returns the Nth ban counting from the head (0 = newest), used by
// ban.cancel's index-addressed form.
func (l *List) AtIndex(idx int) (*Ban, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.head
	for i := 0; n != nil && i < idx; i++ {
		n = n.next
	}
	if n == nil {
		return nil, fmt.Errorf("ban: index %d out of range", idx)
	}
	return n.ban, nil
}

// Cancel marks b completed directly, without waiting for lazy/eager
// evaluation to retire it (spec.md §4.2, SPEC_FULL §5 "ban.cancel").
func (l *List) Cancel(b *Ban) {
	b.setFlag(FlagCompleted)
}

// Snapshot returns every ban currently in the list, newest first, for
// rendering (ban.list CLI command).
func (l *List) Snapshot() []*Ban {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Ban, 0, len(l.byTimestamp))
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.ban)
	}
	return out
}

// Len reports how many bans, completed or not, are still linked in the
// list (they are only unlinked by Reap).
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byTimestamp)
}

// BindObject attaches core to b's per-ban object-core list, recording the
// pointer the core itself keeps back to b (spec.md §3 "the object core's
// ban pointer"). The object index does not call it: Unbusy and Insert set a
// core's ban pointer without binding the core here, so the Lurker only
// visits cores that were bound through this method.
func (l *List) BindObject(b *Ban, core *objcore.Core) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b.objects.insert(core)
	b.Ref()
}

// rebind moves core's per-ban object-list node from `from` to `to`,
// adjusting both bans' refcounts accordingly. Used by the lurker when a
// core survives every oban test and its pointer fast-forwards past `from`
// (cache_ban_lurker.c's ban_lurker_test_ban: "bt->refcount--; ...;
// bd->refcount++").
func (l *List) rebind(node *objNode, from, to *Ban) {
	l.mu.Lock()
	node.remove()
	to.objects.insert(node.core)
	l.mu.Unlock()
	to.Ref()
	from.Deref()
}

// Reap walks from the tail forward, unlinking every completed ban whose
// per-ban object list is empty and whose refcount has dropped to the
// single reference the list itself holds (spec.md §4.2 "Tail reaping").
// It stops at the first ban that cannot yet be reclaimed, so bans leave
// the list only from its tail.
func (l *List) Reap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for n := l.tail; n != nil; {
		prev := n.prev
		if !n.ban.IsCompleted() || !n.ban.objects.empty() || n.ban.Refcount() > 1 {
			break
		}
		l.unlink(n)
		reaped++
		n = prev
	}
	return reaped
}

// EvaluateCore performs the lazy evaluation spec.md §4.2 describes for
// Lookup: if cur already points at the current head ban, the core is
// up-to-date. Otherwise every non-COMPLETED ban strictly newer than cur is
// matched against obj; the first match kills the core, and otherwise the
// core's pointer fast-forwards to the list head. The bans walked are
// refcount-pinned while l.mu is held so the walk itself can run without the
// lock (spec.md §4.1 "this is done without holding the ban mutex by first
// pinning the stop-ban's refcount under the mutex").
func (l *List) EvaluateCore(cur objcore.BanRef, obj *ObjectContext) (kill bool, newRef objcore.BanRef) {
	l.mu.Lock()
	head := l.head
	if head == nil {
		l.mu.Unlock()
		return false, nil
	}
	if cur != nil && cur.Timestamp() == head.ban.timestamp {
		l.mu.Unlock()
		return false, cur
	}
	var toCheck []*Ban
	for n := head; n != nil; n = n.next {
		if cur != nil && n.ban.timestamp <= cur.Timestamp() {
			break
		}
		n.ban.Ref()
		toCheck = append(toCheck, n.ban)
	}
	head.ban.Ref() // pin the fast-forward target; released by the caller via Deref on replacement
	l.mu.Unlock()

	defer func() {
		for _, b := range toCheck {
			b.Deref()
		}
	}()

	for _, b := range toCheck {
		if b.IsCompleted() {
			continue
		}
		if b.Matches(nil, obj) {
			head.ban.Deref()
			return true, nil
		}
	}
	return false, head.ban
}

func (l *List) unlink(n *listNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	delete(l.byTimestamp, n.ban.timestamp)
}
