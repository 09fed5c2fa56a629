// Package pool implements fixed-identity worker pools with per-priority
// task queues, a reserve carve-out for high-priority work, and a herder
// that grows/shrinks the worker count (spec.md §4.4).
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
)

// Priority is a task's priority class, ordered high to low (spec.md §4.4
// "Priority classes").
type Priority int

const (
	PrioBO Priority = iota // backend/fetch work; must not starve
	PrioRUSH
	PrioREQ
	PrioSTR
	PrioVCA
	PrioBG
	prioCount
)

func (p Priority) String() string {
	switch p {
	case PrioBO:
		return "BO"
	case PrioRUSH:
		return "RUSH"
	case PrioREQ:
		return "REQ"
	case PrioSTR:
		return "STR"
	case PrioVCA:
		return "VCA"
	case PrioBG:
		return "BG"
	default:
		return "?"
	}
}

// Task is a unit of work submitted to a pool (spec.md §3 "Worker task").
type Task func(ctx context.Context, arg []byte)

// Config tunes one pool.
type Config struct {
	Min, Max    int
	QueueLimit  int
	Reserve     int
	IdleTimeout time.Duration
	Watchdog    time.Duration
	// ArgSize bounds Task_Arg's scratch copy (spec.md §4.4 "copy a small
	// argument... into the target worker's scratch space").
	ArgSize int
}

func (c Config) withDefaults() Config {
	if c.Min <= 0 {
		c.Min = 4
	}
	if c.Max <= 0 {
		c.Max = 64
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 4096
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.Watchdog <= 0 {
		c.Watchdog = 60 * time.Second
	}
	if c.ArgSize <= 0 {
		c.ArgSize = 64
	}
	return c
}

type queuedTask struct {
	fn       Task
	arg      []byte
	reserved bool
}

// Pool is one fixed-identity worker pool (spec.md §3 "Pool").
type Pool struct {
	name string
	cfg  Config
	clk  clock.Clock
	log  corelog.Logger

	mu       sync.Mutex
	queues   [prioCount]chan queuedTask
	nThreads int
	nIdle    int
	dying    bool

	// ndequeued tracks total dequeues per priority for the watchdog's
	// liveness check on the highest-priority queue (spec.md §4.4 "Herder").
	ndequeued [prioCount]atomic.Uint64
	lastSeen  [prioCount]uint64
	lastBeat  time.Time

	idleWake chan struct{}

	stats *Stats

	// faults is the optional debug.reqpoolfail fault injector (SPEC_FULL
	// §5); nil means no injected failures.
	faults *FaultInjector
	reqSeq atomic.Uint64

	// reserveSem bounds how many BO/RUSH ("vital") tasks may ride past the
	// Max admission gate at once, at cfg.Reserve capacity — the carve-out
	// spec.md §4.4 describes, implemented as a weighted semaphore instead
	// of an extra counter so acquire/release pairs with dequeue for free.
	// nil when Reserve is 0.
	reserveSem *semaphore.Weighted

	eg   *errgroup.Group
	quit chan struct{}
	done chan struct{}
}

// Stats is the pool's counter set (spec.md §4.4 "Statistics flush"). Submit
// and dispatch increment these Prometheus counters directly; there is no
// worker-local stage that is later folded into them.
type Stats struct {
	Dispatched prometheus.Counter
	Queued     prometheus.Counter
	Dropped    prometheus.Counter
	Rescheduled prometheus.Counter
}

// NewStats registers the pool's counters under name with reg.
func NewStats(reg prometheus.Registerer, name string) *Stats {
	mk := func(kind string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "cachecore",
			Subsystem:   "pool",
			Name:        kind,
			ConstLabels: prometheus.Labels{"pool": name},
		})
		reg.MustRegister(c)
		return c
	}
	return &Stats{
		Dispatched:  mk("dispatched_total"),
		Queued:      mk("queued_total"),
		Dropped:     mk("dropped_total"),
		Rescheduled: mk("rescheduled_total"),
	}
}

// New constructs a pool. Run the herder with Herder to actually start
// worker goroutines.
func New(name string, cfg Config, clk clock.Clock, log corelog.Logger, stats *Stats) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		name:     name,
		cfg:      cfg,
		clk:      clk,
		log:      log,
		stats:    stats,
		idleWake: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		lastBeat: clk.Now(),
		eg:       new(errgroup.Group),
	}
	for i := range p.queues {
		p.queues[i] = make(chan queuedTask, cfg.QueueLimit)
	}
	if cfg.Reserve > 0 {
		p.reserveSem = semaphore.NewWeighted(int64(cfg.Reserve))
	}
	return p
}

// reserveAllows reports whether priority p may still consume queue capacity
// given nidle idle threads (spec.md §4.4: "priority p is only permitted to
// consume the queue if nidle > reserve * p / PRIO_COUNT").
func (p *Pool) reserveAllows(prio Priority, nidle int) bool {
	return nidle*int(prioCount) > p.cfg.Reserve*int(prio)
}

// SetFaultInjector installs f as the pool's debug.reqpoolfail source. A nil
// f (the default) disables fault injection.
func (p *Pool) SetFaultInjector(f *FaultInjector) {
	p.mu.Lock()
	p.faults = f
	p.mu.Unlock()
}

// Task enqueues fn at priority prio (spec.md §4.4 "Task(pool, task, prio)").
// It returns false if the task was dropped for backpressure.
func (p *Pool) Task(fn Task, prio Priority) bool {
	return p.submit(queuedTask{fn: fn}, prio)
}

// TaskArg is Task_Arg: like Task, but arg is copied into the queued task's
// own storage rather than referenced, honoring ArgSize (spec.md §4.4).
func (p *Pool) TaskArg(fn Task, prio Priority, arg []byte) bool {
	if len(arg) > p.cfg.ArgSize {
		arg = arg[:p.cfg.ArgSize]
	}
	cp := make([]byte, len(arg))
	copy(cp, arg)
	return p.submit(queuedTask{fn: fn, arg: cp}, prio)
}

func (p *Pool) submit(t queuedTask, prio Priority) bool {
	if prio == PrioREQ {
		p.mu.Lock()
		faults := p.faults
		p.mu.Unlock()
		if faults != nil && faults.Check(p.reqSeq.Add(1)-1) {
			if p.stats != nil {
				p.stats.Dropped.Inc()
			}
			return false
		}
	}

	p.mu.Lock()
	// BO/RUSH skip the reserveAllows check when a reserve is configured; past
	// Max they are queued only while a reserve slot is free (below).
	vital := p.cfg.Reserve > 0 && int(prio) <= 1
	allowed := vital || p.reserveAllows(prio, p.nIdle)
	queued := len(p.queues[prio])
	overMax := queued+p.nThreads >= p.cfg.Max
	p.mu.Unlock()

	if !allowed && overMax {
		if p.stats != nil {
			p.stats.Dropped.Inc()
		}
		return false
	}

	// A vital task riding past Max consumes one reserve slot; it is
	// released when a worker dequeues it (spec.md §4.4's reserve
	// carve-out, sized by cfg.Reserve).
	if vital && overMax && p.reserveSem != nil {
		if !p.reserveSem.TryAcquire(1) {
			if p.stats != nil {
				p.stats.Dropped.Inc()
			}
			return false
		}
		t.reserved = true
	}

	select {
	case p.queues[prio] <- t:
	default:
		if t.reserved {
			p.reserveSem.Release(1)
		}
		if p.stats != nil {
			p.stats.Dropped.Inc()
		}
		return false
	}
	if p.stats != nil {
		p.stats.Queued.Inc()
	}
	select {
	case p.idleWake <- struct{}{}:
	default:
	}
	return true
}

// Len reports the number of queued tasks across all priorities, for tests
// and stats.
func (p *Pool) Len() int {
	n := 0
	for i := range p.queues {
		n += len(p.queues[i])
	}
	return n
}
