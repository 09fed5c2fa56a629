package pool

import (
	"context"
	"time"
)

// Herder grows and shrinks p's worker count between cfg.Min and cfg.Max,
// dispatches queued tasks to idle workers by priority, retires workers that
// sit idle past IdleTimeout ("kiss of death"), and ends the process through
// the logger's Crit if the highest-priority queue stops draining (spec.md §4.4
// "Herder"). It blocks until ctx is done or Shutdown is called, and does
// not return until every worker goroutine it spawned (tracked via an
// errgroup.Group) has actually exited.
func (p *Pool) Herder(ctx context.Context) {
	defer close(p.done)

	for i := 0; i < p.cfg.Min; i++ {
		p.spawnWorker(ctx)
	}

	watchdog := p.clk.NewTimer(p.cfg.Watchdog)
	defer watchdog.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-p.quit:
			break loop
		case <-p.idleWake:
			p.maybeGrow(ctx)
		case <-watchdog.C():
			p.checkWatchdog()
			watchdog.Reset(p.cfg.Watchdog)
		}
	}
	p.eg.Wait()
}

// Shutdown signals the herder and all workers to stop and waits for them.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.dying {
		p.mu.Unlock()
		return
	}
	p.dying = true
	p.mu.Unlock()
	close(p.quit)
	<-p.done
}

// maybeGrow spawns one more worker if the pool is below Max and every
// existing worker looks busy (nIdle == 0) with work still queued.
func (p *Pool) maybeGrow(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dying {
		return
	}
	if p.nThreads >= p.cfg.Max {
		return
	}
	if p.nIdle > 0 {
		return
	}
	if p.Len() == 0 {
		return
	}
	p.spawnWorkerLocked(ctx)
}

func (p *Pool) spawnWorker(ctx context.Context) {
	p.mu.Lock()
	p.spawnWorkerLocked(ctx)
	p.mu.Unlock()
}

func (p *Pool) spawnWorkerLocked(ctx context.Context) {
	p.nThreads++
	p.nIdle++
	p.eg.Go(func() error {
		p.workerLoop(ctx)
		return nil
	})
}

// workerLoop is one worker goroutine's lifetime: dequeue highest-priority
// task first, run it, and retire after sitting idle past IdleTimeout if
// doing so wouldn't drop the pool below Min (spec.md §4.4 "kiss of death").
func (p *Pool) workerLoop(ctx context.Context) {
	idleTimer := p.clk.NewTimer(p.cfg.IdleTimeout)
	defer idleTimer.Stop()

	for {
		task, prio, ok := p.dequeue(ctx, idleTimer.C())
		if !ok {
			p.retire()
			return
		}

		p.mu.Lock()
		p.nIdle--
		p.mu.Unlock()

		if task.reserved && p.reserveSem != nil {
			p.reserveSem.Release(1)
		}
		if p.stats != nil {
			p.stats.Dispatched.Inc()
		}
		p.ndequeued[prio].Add(1)
		task.fn(ctx, task.arg)

		p.mu.Lock()
		p.nIdle++
		dying := p.dying
		p.mu.Unlock()
		if dying {
			p.retire()
			return
		}
		idleTimer.Reset(p.cfg.IdleTimeout)
	}
}

// dequeue blocks on the priority-ordered queues, ctx, pool shutdown, or the
// worker's own idle timer (for kiss-of-death retirement). Queues are
// polled high-to-low priority with a non-blocking pass first so BO work
// never waits behind a blocking select case on a lower queue.
func (p *Pool) dequeue(ctx context.Context, idle <-chan time.Time) (queuedTask, Priority, bool) {
	for {
		for prio := Priority(0); prio < prioCount; prio++ {
			select {
			case t := <-p.queues[prio]:
				return t, prio, true
			default:
			}
		}

		select {
		case <-ctx.Done():
			return queuedTask{}, 0, false
		case <-p.quit:
			return queuedTask{}, 0, false
		case t := <-p.queues[PrioBO]:
			return t, PrioBO, true
		case t := <-p.queues[PrioRUSH]:
			return t, PrioRUSH, true
		case t := <-p.queues[PrioREQ]:
			return t, PrioREQ, true
		case t := <-p.queues[PrioSTR]:
			return t, PrioSTR, true
		case t := <-p.queues[PrioVCA]:
			return t, PrioVCA, true
		case t := <-p.queues[PrioBG]:
			return t, PrioBG, true
		case <-idle:
			if p.canRetire() {
				return queuedTask{}, 0, false
			}
			// Below Min: stay alive, reset and keep waiting.
		}
	}
}

func (p *Pool) canRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nThreads > p.cfg.Min
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.nThreads--
	p.nIdle--
	p.mu.Unlock()
}

// checkWatchdog aborts the process via Crit if the BO queue has items but
// hasn't dequeued anything since the last tick, which on a real system
// indicates every worker is wedged on a blocking backend call (spec.md §4.4
// "Herder watchdog").
func (p *Pool) checkWatchdog() {
	seen := p.ndequeued[PrioBO].Load()
	stalled := seen == p.lastSeen[PrioBO] && len(p.queues[PrioBO]) > 0
	p.lastSeen[PrioBO] = seen
	if stalled && p.log != nil {
		p.log.Crit("pool watchdog: BO queue not draining", "pool", p.name, "queued", len(p.queues[PrioBO]))
	}
}
