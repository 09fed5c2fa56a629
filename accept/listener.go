package accept

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/reveno/cachecore/internal/corelog"
)

// sockClosing is the sentinel socket state distinguishing "we are shutting
// this listener down on purpose" from "the kernel handed us an
// error" (original_source cache_acceptor.c's `ls->sock == -2` convention).
const sockClosing int32 = -2

// Endpoint is one listen address cachecored binds, tracked independently so
// per-socket option inheritance (TCP_NODELAY, keepalive, receive buffer
// size) survives listener restarts (spec.md §4.5 "per-socket-option
// inheritance").
type Endpoint struct {
	Name    string
	Network string // "tcp", "tcp4", "tcp6", "unix"
	Addr    string

	mu       sync.Mutex
	listener net.Listener
	state    atomic.Int32 // 0 = open, sockClosing = shutting down

	// opts holds the last successfully applied socket options so a
	// relisten (config reload) can reapply them without the caller
	// re-specifying them.
	opts SocketOptions

	// optsLimiter rate-limits the trace line applyOptions logs on every
	// accepted connection, so a busy listener re-testing its own option
	// inheritance doesn't flood the log (spec.md §4.5 "per-socket-option
	// inheritance" re-tested per accept, SPEC_FULL §4's rate-limiting
	// note).
	optsLimiter *rate.Limiter
}

// SocketOptions are the per-connection options an endpoint remembers and
// reapplies to every accepted connection (spec.md §4.5).
type SocketOptions struct {
	NoDelay        bool
	KeepAlive      bool
	ReceiveBufSize int
	SendBufSize    int
}

// Listen binds ep's address and remembers opts for future accepted
// connections (mgt_acceptor_tcp.c's listen-then-remember-options split).
func (ep *Endpoint) Listen(opts SocketOptions) error {
	ln, err := net.Listen(ep.Network, ep.Addr)
	if err != nil {
		return fmt.Errorf("accept: listen %s %s: %w", ep.Network, ep.Addr, err)
	}
	ep.mu.Lock()
	ep.listener = ln
	ep.opts = opts
	ep.state.Store(0)
	if ep.optsLimiter == nil {
		ep.optsLimiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	ep.mu.Unlock()
	return nil
}

// applyOptions applies ep's remembered socket options to a freshly accepted
// TCP connection. Non-TCP connections (unix sockets) are left untouched.
// Every accepted connection re-tests option inheritance this way; log
// records that at most once per second per endpoint, via optsLimiter.
func (ep *Endpoint) applyOptions(c net.Conn, log corelog.Logger) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	ep.mu.Lock()
	opts := ep.opts
	limiter := ep.optsLimiter
	ep.mu.Unlock()
	_ = tc.SetNoDelay(opts.NoDelay)
	_ = tc.SetKeepAlive(opts.KeepAlive)
	if opts.ReceiveBufSize > 0 {
		_ = tc.SetReadBuffer(opts.ReceiveBufSize)
	}
	if opts.SendBufSize > 0 {
		_ = tc.SetWriteBuffer(opts.SendBufSize)
	}
	if log != nil && limiter != nil && limiter.Allow() {
		log.Trace("accept: option inheritance re-applied", "endpoint", ep.Name, "nodelay", opts.NoDelay, "keepalive", opts.KeepAlive)
	}
}

// Shutdown marks ep as closing and closes its listener, unblocking any
// goroutine parked in Accept (spec.md §4.5 "Shutdown": "close the listener
// sockets, setting them to the sentinel state").
func (ep *Endpoint) Shutdown(log corelog.Logger) {
	ep.state.Store(sockClosing)
	ep.mu.Lock()
	ln := ep.listener
	ep.mu.Unlock()
	if ln == nil {
		return
	}
	if err := ln.Close(); err != nil && log != nil {
		log.Warn("accept: error closing listener", "endpoint", ep.Name, "err", err)
	}
}

func (ep *Endpoint) closing() bool {
	return ep.state.Load() == sockClosing
}
