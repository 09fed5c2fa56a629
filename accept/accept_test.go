package accept

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/pool"
)

func TestPacerGrowsAndDecays(t *testing.T) {
	p := NewPacer(PacerConfig{Incr: 10 * time.Millisecond, Max: 30 * time.Millisecond, Decay: 0.5})
	require.Zero(t, p.Delay())

	p.Bad()
	require.Equal(t, 10*time.Millisecond, p.Delay())
	p.Bad()
	p.Bad()
	p.Bad()
	require.Equal(t, 30*time.Millisecond, p.Delay(), "pace must clamp at Max")

	p.Good()
	require.Equal(t, 15*time.Millisecond, p.Delay())
	p.Good()
	require.Zero(t, p.Delay(), "pace must snap to zero once below Incr")
}

func TestAcceptorDispatchesToWorkerPool(t *testing.T) {
	gate := NewGate()
	gate.Open()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := &Endpoint{Name: "test", Network: "tcp", Addr: ln.Addr().String()}
	ep.listener = ln

	wp := pool.New("test", pool.Config{Min: 1, Max: 2}, clock.System{}, corelog.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go wp.Herder(ctx)
	t.Cleanup(func() { cancel(); wp.Shutdown() })

	var handled atomic.Bool
	done := make(chan struct{})
	handler := func(ctx context.Context, conn net.Conn) {
		handled.Store(true)
		conn.Close()
		close(done)
	}

	a := NewAcceptor(ep, gate, wp, NewPacer(PacerConfig{}), handler, clock.System{}, corelog.Discard())
	go a.Run(ctx)

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never handled")
	}
	require.True(t, handled.Load())
}

func TestAcceptorWaitsForGate(t *testing.T) {
	gate := NewGate() // closed

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := &Endpoint{Name: "test", Network: "tcp", Addr: ln.Addr().String()}
	ep.listener = ln

	wp := pool.New("test", pool.Config{Min: 1, Max: 1}, clock.System{}, corelog.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go wp.Herder(ctx)
	t.Cleanup(func() { cancel(); wp.Shutdown() })

	handled := make(chan struct{}, 1)
	handler := func(ctx context.Context, conn net.Conn) {
		conn.Close()
		handled <- struct{}{}
	}
	a := NewAcceptor(ep, gate, wp, NewPacer(PacerConfig{}), handler, clock.System{}, corelog.Discard())
	go a.Run(ctx)

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-handled:
		t.Fatal("acceptor must not accept while the gate is closed")
	case <-time.After(150 * time.Millisecond):
	}

	gate.Open()
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor never resumed after gate opened")
	}
}

func TestManagerShutdownStopsAcceptLoops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := &Endpoint{Name: "test", Network: "tcp", Addr: ln.Addr().String()}
	ep.listener = ln

	wp := pool.New("test", pool.Config{Min: 1, Max: 1}, clock.System{}, corelog.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go wp.Herder(ctx)
	t.Cleanup(func() { cancel(); wp.Shutdown() })

	m := NewManager(corelog.Discard())
	a := NewAcceptor(ep, m.gate, wp, NewPacer(PacerConfig{}), func(ctx context.Context, conn net.Conn) { conn.Close() }, clock.System{}, corelog.Discard())
	m.Add(ep, a)
	m.Start(ctx)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager shutdown never completed")
	}
	require.True(t, ep.closing())
}
