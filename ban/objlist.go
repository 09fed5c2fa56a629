package ban

import "github.com/reveno/cachecore/objcore"

// objNode is one entry in a ban's per-ban object-core list. The lurker walks
// this list to find cores bound to a given ban without scanning the whole
// index (spec.md §4.2 point 3, "walks the bound object-core list of a single
// ban"). A nil Core marks the sentinel node the lurker parks at mid-walk
// when it must drop the list lock to try-lock an object head, exactly as a
// linked-list cursor is repositioned in the original C implementation.
type objNode struct {
	core       *objcore.Core
	next, prev *objNode
	sentinel   bool
}

// objList is a doubly linked list of objNodes bracketed by a fixed head
// sentinel, so insertion/removal never needs to special-case the ends.
type objList struct {
	head objNode // head.next is the first real node, head.prev the last
}

func newObjList() *objList {
	l := &objList{}
	l.head.sentinel = true
	l.head.next = &l.head
	l.head.prev = &l.head
	return l
}

// insert links core at the front of the list and returns its node, which
// can be removed in O(1) later via remove.
func (l *objList) insert(core *objcore.Core) *objNode {
	n := &objNode{core: core}
	n.next = l.head.next
	n.prev = &l.head
	l.head.next.prev = n
	l.head.next = n
	return n
}

// remove unlinks n from whichever list it is in. Safe to call twice.
func (n *objNode) remove() {
	if n.next == nil || n.prev == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
}

// newSentinel allocates a free-floating cursor sentinel, used by the lurker
// to mark its position in the list across a lock release (spec.md §4.2
// point 3: "a per-ban object-core list with sentinel nodes so a paused
// traversal can resume without rescanning").
func (l *objList) newSentinel() *objNode {
	return &objNode{sentinel: true}
}

// insertAfter links s immediately after n, used to reposition a traversal
// sentinel one step forward.
func (l *objList) insertAfter(n, s *objNode) {
	s.next = n.next
	s.prev = n
	n.next.prev = s
	n.next = s
}

// each walks the list from the head, invoking fn for every real (non
// sentinel) node currently present. fn may remove the node it was called
// with; each re-reads next only after fn returns, via a private cursor
// sentinel so concurrent inserts from the front are never mistaken for
// revisits.
func (l *objList) each(fn func(n *objNode) (cont bool)) {
	cursor := l.newSentinel()
	l.insertAfter(&l.head, cursor)
	defer cursor.remove()

	for {
		next := cursor.next
		if next == &l.head {
			return
		}
		if next.sentinel {
			cursor.remove()
			l.insertAfter(next, cursor)
			continue
		}
		// Reposition the cursor immediately behind next before invoking fn,
		// so that if fn removes next from the list, next's own remove()
		// re-links the cursor's neighbors correctly instead of leaving the
		// cursor pointing at an already-unlinked node.
		cursor.remove()
		l.insertAfter(next, cursor)
		if !fn(next) {
			return
		}
	}
}

func (l *objList) empty() bool {
	return l.head.next == &l.head
}
