package accept

import (
	"context"
	"sync"

	"github.com/reveno/cachecore/internal/corelog"
)

// Manager owns the full set of listen endpoints and their acceptors, and
// implements the coordinated shutdown sequence (spec.md §4.5 "Shutdown").
type Manager struct {
	gate      *Gate
	log       corelog.Logger
	mu        sync.Mutex
	endpoints []*Endpoint
	acceptors []*Acceptor

	wg sync.WaitGroup
}

// NewManager constructs an empty Manager; its Gate starts closed.
func NewManager(log corelog.Logger) *Manager {
	return &Manager{gate: NewGate(), log: log}
}

// Gate returns the Manager's shared gate, so callers constructing Acceptors
// to pass to Add can wire them to the same open/closed signal.
func (m *Manager) Gate() *Gate {
	return m.gate
}

// Add registers ep/a as a managed pair. Call before Start.
func (m *Manager) Add(ep *Endpoint, a *Acceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, ep)
	m.acceptors = append(m.acceptors, a)
}

// Start opens the gate and launches every registered acceptor's Run loop.
func (m *Manager) Start(ctx context.Context) {
	m.gate.Open()
	m.mu.Lock()
	acceptors := append([]*Acceptor(nil), m.acceptors...)
	m.mu.Unlock()
	for _, a := range acceptors {
		a := a
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			a.Run(ctx)
		}()
	}
}

// Shutdown closes the gate so no acceptor issues a new accept(2), then
// closes every listener socket (driving blocked Accept calls to return
// net.ErrClosed), and waits for every acceptor goroutine to exit
// (original_source cache_acceptor.c's pool_accepting/shut_mtx/shut_cond
// sequence, expressed with a WaitGroup instead of a condition variable).
func (m *Manager) Shutdown() {
	m.gate.Close()
	m.mu.Lock()
	endpoints := append([]*Endpoint(nil), m.endpoints...)
	m.mu.Unlock()
	for _, ep := range endpoints {
		ep.Shutdown(m.log)
	}
	m.wg.Wait()
}
