// Package cachecore wires the object index, ban list/lurker, expiry engine,
// worker pools, and acceptors into one running cache service (spec.md's
// four core components, SPEC_FULL §2 "cachecore: top-level façade").
package cachecore

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reveno/cachecore/accept"
	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/expiry"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/config"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
	"github.com/reveno/cachecore/objindex"
	"github.com/reveno/cachecore/persistence"
	"github.com/reveno/cachecore/policy"
	"github.com/reveno/cachecore/pool"
	"github.com/reveno/cachecore/stevedore"
	"github.com/reveno/cachecore/transport"
)

// Cache is the assembled service: everything a request-handling Handler
// needs to perform a Lookup, drive a fetch to completion, and have bans,
// expiry, and storage pressure all resolve automatically in the background.
type Cache struct {
	cfg   config.Config
	log   corelog.Logger
	clk   clock.Clock
	store stevedore.Store
	hooks policy.Hooks

	Bans      *ban.List
	Lurker    *ban.Lurker
	Expiry    *expiry.Engine
	Index     *objindex.Index
	Pools     *pool.Set
	Transport *transport.Registry
	Notifier  *persistence.Notifier

	mgr *accept.Manager

	handlerMu sync.Mutex
	handler   ConnHandler

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// New assembles a Cache from cfg. store and hooks are the external
// collaborators spec.md §6 names (the persistent storage backend and the
// VCL-style policy hooks); persist may be nil to disable ban persistence.
func New(cfg config.Config, log corelog.Logger, clk clock.Clock, store stevedore.Store, hooks policy.Hooks, persist persistence.Store) (*Cache, error) {
	bans := ban.NewList()

	c := &Cache{cfg: cfg, log: log, clk: clk, store: store, hooks: hooks, Bans: bans}

	c.Expiry = expiry.New(expiry.Config{
		InboxCapacity:   cfg.ExpiryBatchSize,
		OffloadAt:       cfg.ExpiryOffloadAt,
		DereferenceSize: 0,
	}, clk, log.With("component", "expiry"), c.expireKill)

	c.Lurker = ban.NewLurker(bans, ban.LurkerConfig{
		Base:     cfg.BanLurkerBase,
		AgeLimit: cfg.BanLurkerAgeLimit,
		Cutoff:   cfg.BanLurkerCutoff,
	}, clk, log.With("component", "ban_lurker"), c.lurkerKill)

	c.Index = objindex.New(objindex.Config{
		RushExponent: cfg.RushExponent,
		DegradedHash: cfg.DegradedHash,
	}, clk, log.With("component", "objindex"), bans, c.Expiry, c.attr)

	c.Transport = transport.NewRegistry(0)

	pools, err := buildPools(cfg.Pools, clk, log)
	if err != nil {
		return nil, err
	}
	c.Pools = pools

	if persist != nil {
		c.Notifier = persistence.NewNotifier(bans, persist)
	}

	mgr, err := buildListeners(cfg.Listeners, c)
	if err != nil {
		return nil, err
	}
	c.mgr = mgr

	return c, nil
}

// attr fulfils objindex.AttrSource by delegating to the storage backend,
// keyed by the core's own identity (spec.md §6 "get_attr(core, attr) ->
// bytes | null").
func (c *Cache) attr(core *objcore.Core, name string) (string, bool) {
	key, ok := coreStorageKey(core)
	if !ok {
		return "", false
	}
	return c.store.Attr(key, name)
}

// expireKill is the expiry engine's KillFunc: it marks the core DYING via
// the index and releases its storage body (spec.md §4.3 step 4 "Kill").
func (c *Cache) expireKill(core *objcore.Core) {
	c.Index.Kill(core)
	c.releaseStorage(core, "event", "exp_kill")
}

// lurkerKill is the ban lurker's KillFunc, identical in effect to
// expireKill but logged under a different event tag (SPEC_FULL §5's
// VSL-style structured trace events).
func (c *Cache) lurkerKill(core *objcore.Core) {
	c.Index.Kill(core)
	c.releaseStorage(core, "event", "ban_kill")
}

func (c *Cache) releaseStorage(core *objcore.Core, kv ...any) {
	if key, ok := coreStorageKey(core); ok {
		if err := c.store.FreeContent(key); err != nil {
			c.log.Warn("release storage failed", append(kv, "err", err)...)
			return
		}
	}
	c.log.Info("core killed", kv...)
}

// Start launches the expiry engine, ban lurker, worker pool herders, and
// the accept loops, in that order so nothing accepts a connection before
// the machinery it depends on is running.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.Expiry.Run(runCtx)
	go c.Lurker.Run(runCtx)
	c.Pools.Herd(runCtx)
	if c.cfg.ReqPoolFailFile != "" {
		c.watchFaultFile(runCtx, c.cfg.ReqPoolFailFile)
	}
	if c.mgr != nil {
		c.mgr.Start(runCtx)
	}
}

// Stop shuts down the acceptors first (stop taking new work), then the
// worker pools, ban lurker, and expiry engine, mirroring the startup order
// in reverse (spec.md §4.5 "Shutdown").
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		if c.mgr != nil {
			c.mgr.Shutdown()
		}
		c.Pools.Shutdown()
		c.Lurker.Stop()
		c.Expiry.Stop()
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func buildPools(specs []config.PoolSpec, clk clock.Clock, log corelog.Logger) (*pool.Set, error) {
	if len(specs) == 0 {
		specs = []config.PoolSpec{{Name: "default"}}
	}
	pools := make([]*pool.Pool, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		name := spec.Name
		if name == "" {
			name = "default"
		}
		if seen[name] {
			return nil, fmt.Errorf("cachecore: duplicate pool name %q", name)
		}
		seen[name] = true

		stats := pool.NewStats(prometheus.DefaultRegisterer, name)
		p := pool.New(name, pool.Config{
			Min:         spec.Min,
			Max:         spec.Max,
			QueueLimit:  spec.QueueLimit,
			Reserve:     spec.Reserve,
			IdleTimeout: spec.IdleTimeout,
			Watchdog:    spec.WatchdogTime,
		}, clk, log.With("pool", name), stats)
		pools = append(pools, p)
	}
	return pool.NewSet(pools...), nil
}
