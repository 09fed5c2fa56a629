package ban

import (
	"context"
	"time"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

// lurkerFallbackSleep is the decision for SPEC_FULL §6 Open Question 2: when
// the lurker has nothing to do (list empty, or every ban already
// completed), it backs off to this interval rather than spinning, mirroring
// the original implementation's hard-coded fallback sleep.
const lurkerFallbackSleep = 49*time.Second + 620*time.Millisecond

// LurkerConfig tunes the background sweep (spec.md §4.2).
type LurkerConfig struct {
	// Base is the sleep between sweep passes when there is work to do.
	Base time.Duration
	// AgeLimit is how old a non-REQ, non-COMPLETED ban must be before the
	// lurker adds it to a pass's oban set and evaluates it; younger bans
	// are left for a later pass.
	AgeLimit time.Duration
	// Cutoff bounds how many object cores the lurker inspects per ban per
	// pass before yielding, so one huge per-ban list can't starve others.
	Cutoff int
}

func (c LurkerConfig) withDefaults() LurkerConfig {
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.AgeLimit <= 0 {
		c.AgeLimit = 10 * time.Second
	}
	if c.Cutoff <= 0 {
		c.Cutoff = 1000
	}
	return c
}

// KillFunc is invoked by the lurker for every object core a ban matches; it
// is objindex's Kill/Snipe operation, injected here to avoid ban importing
// objindex (spec.md §4.1/§4.2 are siblings, not layered on each other).
type KillFunc func(core *objcore.Core)

// Lurker walks the ban list from the head (newest first), evaluating the
// old-enough non-REQ bans against every object core bound to a live ban, killing matches and advancing
// each core's ban pointer past bans it has survived (spec.md §4.2 point 1
// through 5).
type Lurker struct {
	list *List
	cfg  LurkerConfig
	clk  clock.Clock
	log  corelog.Logger
	kill KillFunc

	quit chan struct{}
	done chan struct{}
}

// NewLurker constructs a lurker bound to list; it does not start until Run
// is called.
func NewLurker(list *List, cfg LurkerConfig, clk clock.Clock, log corelog.Logger, kill KillFunc) *Lurker {
	return &Lurker{
		list: list,
		cfg:  cfg.withDefaults(),
		clk:  clk,
		log:  log,
		kill: kill,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run blocks, sweeping until ctx is cancelled or Stop is called. Grounded on
// core/rawdb/prunedfreezer.go's freeze() loop: a select against a quit
// channel, a lurkerFallbackSleep backoff when there was no work, otherwise
// a sleep of cfg.Base before the next pass.
func (l *Lurker) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		default:
		}

		did := l.sweepOnce()

		sleep := l.cfg.Base
		if !did {
			sleep = lurkerFallbackSleep
		}
		timer := l.clk.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.quit:
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// Stop requests the sweep loop exit and waits for it to do so.
func (l *Lurker) Stop() {
	close(l.quit)
	<-l.done
}

// epochSeconds converts clk's current time to the float64 Unix-epoch-seconds
// convention ban.Ban timestamps use (cmd/cachecored/ban.go's nowUnix, widened
// to sub-second precision since the lurker's AgeLimit comparison needs it).
func epochSeconds(clk clock.Clock) float64 {
	return float64(clk.Now().UnixNano()) / 1e9
}

// sweepOnce performs one pass over the list (spec.md §4.2 points 1 through
// 5) and reports whether it found any work to do. It mirrors
// cache_ban_lurker.c's ban_lurker_work, simplified from that function's
// single incremental walk into two explicit phases: build the oban set,
// then evaluate every live ban's bound cores against it.
func (l *Lurker) sweepOnce() bool {
	if reaped := l.list.Reap(); reaped > 0 {
		l.log.Debug("ban list reaped", "count", reaped)
	}

	bans := l.list.Snapshot() // newest first
	now := epochSeconds(l.clk)
	ageLimit := l.cfg.AgeLimit.Seconds()

	// Step 2: "old enough" non-REQ, non-COMPLETED bans (oban set).
	var oban []*Ban
	for _, b := range bans {
		if b.IsCompleted() || b.IsReq() {
			continue
		}
		if now-b.Timestamp() >= ageLimit {
			oban = append(oban, b)
		}
	}
	if len(oban) == 0 {
		return false
	}

	// bans is newest-first, so oban's first entry is the newest oban; that
	// is the fast-forward target a surviving core's pointer advances to
	// (spec.md §4.2 point 4: "the newest oban, or the head of the list").
	target := oban[0]

	did := false
	for _, b := range bans {
		if b.IsCompleted() {
			continue
		}
		did = true
		l.evaluate(b, oban, target)
	}

	// Step 5: everything the pass tested is now fully accounted for in
	// every surviving core's pointer; mark the oban set COMPLETED so it
	// becomes reapable.
	for _, b := range oban {
		b.setFlag(FlagCompleted)
	}
	if reaped := l.list.Reap(); reaped > 0 {
		l.log.Debug("ban list reaped", "count", reaped)
	}
	return did
}

// evaluate walks b's bound object-core list, try-locking each core's head
// (spec.md §4.1 "Locking discipline": the lurker never blocks on Head.Mu),
// testing each examined core against every member of oban (not just b), and
// advancing the core's ban pointer to target when it matches none of them
// (spec.md §4.2 points 3 and 4).
func (l *Lurker) evaluate(b *Ban, oban []*Ban, target *Ban) {
	nowTime := l.clk.Now()
	n := 0
	b.objects.each(func(node *objNode) bool {
		n++
		if n > l.cfg.Cutoff {
			return false
		}
		core := node.core
		if !core.Head.Mu.TryLock() {
			return true // contended; skip this pass, catch it next sweep
		}
		dying := core.HasFlag(objcore.Dying)
		core.Head.Mu.Unlock()
		if dying {
			node.remove()
			b.Deref()
			return true
		}

		obj := &ObjectContext{
			Headers: nil,
			Status:  0,
			Now:     nowTime,
			Core:    core,
		}
		for _, ob := range oban {
			if ob.IsCompleted() {
				continue
			}
			if ob.Matches(nil, obj) {
				l.kill(core)
				node.remove()
				b.Deref()
				return true
			}
		}

		if b == target {
			return true
		}

		core.BanMu.Lock()
		if core.Ban == nil || core.Ban.Timestamp() != b.Timestamp() {
			// A concurrent Lookup already fast-forwarded this core's
			// pointer off b; leave it where that lookup put it.
			core.BanMu.Unlock()
			return true
		}
		core.Ban = target
		core.BanMu.Unlock()

		l.list.rebind(node, b, target)
		return true
	})
}
