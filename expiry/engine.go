// Package expiry maintains the min-heap of object cores ordered by expiry
// instant, reacting to insertions, rearms, and removals posted through an
// asynchronous inbox, and dispatching expiry-time kills (spec.md §4.3).
package expiry

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

// offloadThreshold is spec.md §4.3 step 5's "large" cutoff: at or above this
// many expired cores in one pass, dereferencing is handed to the pool
// instead of done inline.
const offloadThreshold = 128

// inboxBatch is spec.md §4.3 step 1's drain batch size.
const inboxBatch = 1024

// tickFraction is the 355/113 second wait ceiling from spec.md §4.3 step 6
// (a deliberately odd, non-round number in the original, preserved here).
const tickFraction = 355 * time.Second / 113

type itemKind uint8

const (
	itemInsert itemKind = iota
	itemMove
	itemRemove
)

type inboxItem struct {
	core *objcore.Core
	kind itemKind
}

// KillFunc is objindex's Kill operation, injected to avoid expiry importing
// objindex (spec.md §4.1/§4.3 are siblings).
type KillFunc func(core *objcore.Core)

// Config tunes the engine loop.
type Config struct {
	InboxCapacity   int
	OffloadAt       int
	DereferenceSize int
}

func (c Config) withDefaults() Config {
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = inboxBatch
	}
	if c.OffloadAt <= 0 {
		c.OffloadAt = offloadThreshold
	}
	if c.DereferenceSize <= 0 {
		c.DereferenceSize = 16
	}
	return c
}

// Engine is the single-threaded expiry loop (spec.md §4.3 "Engine loop").
// The heap and all posted-flag bookkeeping are touched only by the loop
// goroutine; every other goroutine communicates through the inbox channel.
type Engine struct {
	cfg  Config
	clk  clock.Clock
	log  corelog.Logger
	kill KillFunc

	inbox chan inboxItem

	mu      sync.Mutex
	h       coreHeap
	derefer *ants.Pool

	quit chan struct{}
	done chan struct{}
}

// New constructs an Engine. Run must be called to start the loop.
func New(cfg Config, clk clock.Clock, log corelog.Logger, kill KillFunc) *Engine {
	cfg = cfg.withDefaults()
	derefer, err := ants.NewPool(cfg.DereferenceSize, ants.WithNonblocking(false))
	if err != nil {
		// ants.NewPool only fails on a negative size, which withDefaults
		// rules out; treat any failure as a fatal assertion rather than
		// threading an error return through every call site.
		log.Crit("expiry: failed to build dereference pool", "err", err)
	}
	return &Engine{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		kill:    kill,
		inbox:   make(chan inboxItem, cfg.InboxCapacity),
		derefer: derefer,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RefNewObjcore sets REFD|NEW on core (spec.md §4.3 step 1). Caller must
// hold the core's object head mutex.
func (e *Engine) RefNewObjcore(core *objcore.Core) {
	core.SetExpFlag(objcore.ExpRefd | objcore.ExpNew)
}

// timerWhen computes the heap key per SPEC_FULL §6 Open Question 1.
func timerWhen(core *objcore.Core) time.Time {
	return core.TOrigin.Add(core.TTL).Add(core.Grace).Add(core.Keep)
}

// Insert posts INSERT|MOVE for core (spec.md §4.3 step 2), computing
// timer_when from its current t_origin/ttl/grace/keep.
func (e *Engine) Insert(core *objcore.Core) {
	core.TimerWhen = timerWhen(core)
	core.ClearExpFlag(objcore.ExpNew)
	core.SetExpFlag(objcore.ExpInsert | objcore.ExpMove)
	e.post(inboxItem{core: core, kind: itemInsert})
}

// Rearm adjusts ttl/grace/keep unconditionally and posts MOVE only when the
// new expiry instant is earlier than t_origin or the current TimerWhen
// (spec.md §4.3 step 3).
func (e *Engine) Rearm(core *objcore.Core, ttl, grace, keep time.Duration) {
	core.TTL, core.Grace, core.Keep = ttl, grace, keep
	e.move(core)
}

// Reduce adjusts ttl/grace/keep only if doing so brings the expiry instant
// earlier (spec.md §6 "reduce(core, now, ttl, grace, keep) (only reduces)").
func (e *Engine) Reduce(core *objcore.Core, ttl, grace, keep time.Duration) {
	candidate := core.TOrigin.Add(ttl).Add(grace).Add(keep)
	if !candidate.Before(core.TimerWhen) {
		return
	}
	core.TTL, core.Grace, core.Keep = ttl, grace, keep
	e.move(core)
}

func (e *Engine) move(core *objcore.Core) {
	newWhen := timerWhen(core)
	if newWhen.Before(core.TOrigin) || newWhen.Before(core.TimerWhen) {
		core.TimerWhen = newWhen
		core.SetExpFlag(objcore.ExpMove)
		e.post(inboxItem{core: core, kind: itemMove})
	} else {
		core.TimerWhen = newWhen
	}
}

// Remove posts REMOVE (spec.md §4.3 step 4). If core was still NEW (the
// engine never saw its INSERT), the removal is effective immediately and no
// inbox round-trip is needed.
func (e *Engine) Remove(core *objcore.Core) {
	if core.ExpFlagsGet()&objcore.ExpNew != 0 {
		core.ClearExpFlag(objcore.ExpRefd | objcore.ExpNew)
		return
	}
	core.SetExpFlag(objcore.ExpRemove)
	e.post(inboxItem{core: core, kind: itemRemove})
}

// post queues item on the inbox. A core already POSTED may be queued again
// (e.g. INSERT followed by MOVE before the engine drains); processBatch's
// REMOVE-short-circuits-INSERT rule and the todo map's last-write-wins
// folding handle the duplicate.
func (e *Engine) post(item inboxItem) {
	item.core.SetExpFlag(objcore.ExpPosted)
	e.inbox <- item
}

// Run blocks, executing the engine loop until ctx is cancelled or Stop is
// called (spec.md §4.3 "Engine loop", grounded on core/vote/vote_pool.go's
// loop() select-driven dispatch).
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		e.mu.Lock()
		next := e.h.Peek()
		e.mu.Unlock()

		now := e.clk.Now()
		wait := tickFraction
		if next != nil {
			if d := next.TimerWhen.Sub(now); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer := e.clk.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.quit:
			timer.Stop()
			return
		case item := <-e.inbox:
			timer.Stop()
			e.processBatch(item)
		case <-timer.C():
		}

		expired := e.popExpired(e.clk.Now())
		if len(expired) > 0 {
			e.dereference(expired)
		}
	}
}

// Stop requests the loop exit and waits for it to do so.
func (e *Engine) Stop() {
	close(e.quit)
	<-e.done
	e.derefer.Release()
}

// processBatch drains up to inboxBatch items (the first already received
// plus any immediately available), applying the REMOVE-short-circuits-
// INSERT rule, then performs each resulting heap operation (spec.md §4.3
// step 1-2).
func (e *Engine) processBatch(first inboxItem) {
	todo := map[*objcore.Core]inboxItem{first.core: first}
	order := []*objcore.Core{first.core}
drain:
	for len(order) < e.cfg.InboxCapacity {
		select {
		case item := <-e.inbox:
			existing, seen := todo[item.core]
			if !seen {
				order = append(order, item.core)
			} else if existing.kind == itemRemove {
				continue // REMOVE short-circuits any later item on the same core
			}
			todo[item.core] = item
		default:
			break drain
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, core := range order {
		item := todo[core]
		core.ClearExpFlag(objcore.ExpPosted)
		switch item.kind {
		case itemInsert:
			core.ClearExpFlag(objcore.ExpInsert | objcore.ExpMove)
			heap.Push(&e.h, core)
		case itemMove:
			core.ClearExpFlag(objcore.ExpMove)
			if core.ExpiryHeapIndex != objcore.NoHeapIndex {
				heap.Fix(&e.h, core.ExpiryHeapIndex)
			} else {
				heap.Push(&e.h, core)
			}
		case itemRemove:
			core.ClearExpFlag(objcore.ExpRemove)
			if core.ExpiryHeapIndex != objcore.NoHeapIndex {
				heap.Remove(&e.h, core.ExpiryHeapIndex)
			}
			core.ClearExpFlag(objcore.ExpRefd)
		}
	}
}

// popExpired repeatedly pops the root while its TimerWhen <= now (spec.md
// §4.3 step 4).
func (e *Engine) popExpired(now time.Time) []*objcore.Core {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*objcore.Core
	for {
		top := e.h.Peek()
		if top == nil || top.TimerWhen.After(now) {
			break
		}
		core := heap.Pop(&e.h).(*objcore.Core)
		out = append(out, core)
	}
	return out
}

// dereference kills each expired core (unless already DYING) and drops the
// engine's reference, either inline or offloaded to the dereference pool
// depending on batch size (spec.md §4.3 step 5).
func (e *Engine) dereference(cores []*objcore.Core) {
	do := func(core *objcore.Core) {
		if !core.HasFlag(objcore.Dying) {
			e.kill(core)
		}
		core.ClearExpFlag(objcore.ExpRefd)
	}

	if len(cores) < e.cfg.OffloadAt {
		for _, core := range cores {
			do(core)
		}
		return
	}

	var wg sync.WaitGroup
	for _, core := range cores {
		wg.Add(1)
		c := core
		if err := e.derefer.Submit(func() {
			defer wg.Done()
			do(c)
		}); err != nil {
			wg.Done()
			do(c)
		}
	}
	wg.Wait()
}

// Len reports the current heap size, used by tests and stats.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.h)
}
