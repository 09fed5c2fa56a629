package pool

import "context"

// Set is a fixed collection of pools that TaskAny fans out across, mirroring
// Task_Any's "submit to whichever pool looks least loaded" semantics
// (spec.md §4.4 "Task_Any(task, prio)").
type Set struct {
	pools []*Pool
	byName map[string]*Pool
}

// NewSet builds a Set from already-constructed pools.
func NewSet(pools ...*Pool) *Set {
	byName := make(map[string]*Pool, len(pools))
	for _, p := range pools {
		byName[p.name] = p
	}
	return &Set{pools: pools, byName: byName}
}

// Named returns the pool registered under name, or nil if none matches —
// used by the acceptor wiring to pick a specific named pool instead of
// fanning out via TaskAny (spec.md §4.5 "per-pool accept task").
func (s *Set) Named(name string) *Pool {
	return s.byName[name]
}

// First returns the first pool in the set, or nil if empty. Used as a
// fallback when no pool named "default" exists.
func (s *Set) First() *Pool {
	if len(s.pools) == 0 {
		return nil
	}
	return s.pools[0]
}

// All returns every pool in the set, for callers that need to apply an
// operation (such as installing a FaultInjector) to all of them at once.
func (s *Set) All() []*Pool {
	return s.pools
}

// Herd starts every pool's herder goroutine under ctx.
func (s *Set) Herd(ctx context.Context) {
	for _, p := range s.pools {
		go p.Herder(ctx)
	}
}

// TaskAny submits fn at prio to the least-loaded pool in the set, by queued
// task count. Returns false only if every pool rejected it.
func (s *Set) TaskAny(fn Task, prio Priority) bool {
	var best *Pool
	bestLen := -1
	for _, p := range s.pools {
		n := p.Len()
		if bestLen == -1 || n < bestLen {
			best, bestLen = p, n
		}
	}
	if best == nil {
		return false
	}
	return best.Task(fn, prio)
}

// Shutdown stops every pool in the set.
func (s *Set) Shutdown() {
	for _, p := range s.pools {
		p.Shutdown()
	}
}
