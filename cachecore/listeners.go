package cachecore

import (
	"context"
	"net"

	"github.com/reveno/cachecore/accept"
	"github.com/reveno/cachecore/internal/config"
	"github.com/reveno/cachecore/pool"
)

// ConnHandler processes one accepted connection end to end. Wiring a real
// HTTP/1.1 or H2 implementation here is wire-protocol work spec.md's
// Non-goals explicitly exclude; the default handler below only proves the
// accept/pool/policy plumbing works and closes the connection.
type ConnHandler func(ctx context.Context, conn net.Conn, lookup func(req any) any)

// SetHandler installs h as the connection handler used by every listener.
// Must be called before Start; acceptors read it on every accepted
// connection so it can also be swapped for tests.
func (c *Cache) SetHandler(h ConnHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

func (c *Cache) currentHandler() ConnHandler {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	if c.handler != nil {
		return c.handler
	}
	return defaultHandler
}

func defaultHandler(_ context.Context, conn net.Conn, _ func(req any) any) {
	_ = conn.Close()
}

func buildListeners(specs []config.ListenerSpec, c *Cache) (*accept.Manager, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	mgr := accept.NewManager(c.log.With("component", "acceptor"))

	worker := c.firstPool()

	for _, spec := range specs {
		ep := &accept.Endpoint{Name: spec.Name, Network: spec.Network, Addr: spec.Address}
		if err := ep.Listen(accept.SocketOptions{
			NoDelay:   spec.NoDelay,
			KeepAlive: spec.KeepAlive,
		}); err != nil {
			return nil, err
		}

		pacer := accept.NewPacer(accept.PacerConfig{
			Incr:  c.cfg.PaceSleepIncr,
			Max:   c.cfg.PaceSleepMax,
			Decay: c.cfg.PaceDecay,
		})

		handle := func(ctx context.Context, conn net.Conn) {
			c.currentHandler()(ctx, conn, func(req any) any { return c.Lookup(req) })
		}

		a := accept.NewAcceptor(ep, mgr.Gate(), worker, pacer, handle, c.clk, c.log.With("listener", spec.Name))
		mgr.Add(ep, a)
	}

	return mgr, nil
}

func (c *Cache) firstPool() *pool.Pool {
	if p := c.Pools.Named("default"); p != nil {
		return p
	}
	return c.Pools.First()
}
