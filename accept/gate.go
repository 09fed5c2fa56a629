package accept

import "sync/atomic"

// Gate is the process-wide "pool_accepting" flag: accept loops block until
// it opens, and Shutdown closes it before tearing down listeners (spec.md
// §4.5: "accept loops wait for pool_accepting before calling accept(2)").
type Gate struct {
	open atomic.Bool
}

// NewGate returns a Gate that starts closed.
func NewGate() *Gate { return &Gate{} }

// Open allows accept loops to proceed.
func (g *Gate) Open() { g.open.Store(true) }

// Close stops accept loops from issuing new accept(2) calls.
func (g *Gate) Close() { g.open.Store(false) }

func (g *Gate) isOpen() bool { return g.open.Load() }
