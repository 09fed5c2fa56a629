package expiry

import "github.com/reveno/cachecore/objcore"

// coreHeap is a container/heap.Interface over object cores ordered by
// TimerWhen ascending (spec.md §4.3 "Heap discipline"), grounded on
// core/vote/vote_pool.go's votesPriorityQueue shape.
type coreHeap []*objcore.Core

func (h coreHeap) Len() int { return len(h) }

func (h coreHeap) Less(i, j int) bool {
	return h[i].TimerWhen.Before(h[j].TimerWhen)
}

func (h coreHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].ExpiryHeapIndex = i
	h[j].ExpiryHeapIndex = j
}

func (h *coreHeap) Push(x any) {
	core := x.(*objcore.Core)
	core.ExpiryHeapIndex = len(*h)
	*h = append(*h, core)
}

func (h *coreHeap) Pop() any {
	old := *h
	n := len(old)
	core := old[n-1]
	old[n-1] = nil
	core.ExpiryHeapIndex = objcore.NoHeapIndex
	*h = old[:n-1]
	return core
}

func (h coreHeap) Peek() *objcore.Core {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
