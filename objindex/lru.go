package objindex

import (
	"container/list"
	"sync"

	"github.com/reveno/cachecore/objcore"
)

// lru tracks object cores in least-recently-used order so Snipe candidates
// for nuke-on-pressure can be picked from the tail (spec.md §4.1 "Snipe...
// Used by LRU"). container/list gives O(1) move-to-front and removal via
// the element map, the same complexity a hand-rolled intrusive list (as
// other_examples' lru.go reference files all use) would provide, without
// adding pointer fields to objcore.Core for a concern objcore itself has no
// stake in.
type lru struct {
	mu   sync.Mutex
	l    *list.List
	elem map[*objcore.Core]*list.Element
}

func newLRU() *lru {
	return &lru{l: list.New(), elem: make(map[*objcore.Core]*list.Element)}
}

// touch moves core to the front (most recently used), inserting it if new.
func (r *lru) touch(core *objcore.Core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.elem[core]; ok {
		r.l.MoveToFront(e)
		return
	}
	r.elem[core] = r.l.PushFront(core)
}

// remove drops core from the list; a no-op if it isn't tracked.
func (r *lru) remove(core *objcore.Core) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.elem[core]; ok {
		r.l.Remove(e)
		delete(r.elem, core)
	}
}

// oldest returns up to n cores from the least-recently-used end, without
// removing them; the caller attempts Snipe on each in turn.
func (r *lru) oldest(n int) []*objcore.Core {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*objcore.Core, 0, n)
	for e := r.l.Back(); e != nil && len(out) < n; e = e.Prev() {
		out = append(out, e.Value.(*objcore.Core))
	}
	return out
}
