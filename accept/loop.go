package accept

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/pool"
)

// Handler processes one accepted connection. It owns the connection and
// must close it.
type Handler func(ctx context.Context, conn net.Conn)

// Acceptor runs the accept loop for one Endpoint, handing accepted
// connections off to a worker pool at PrioREQ (spec.md §4.5 "per-pool
// accept task").
type Acceptor struct {
	ep      *Endpoint
	gate    *Gate
	workers *pool.Pool
	pace    *Pacer
	handle  Handler
	clk     clock.Clock
	log     corelog.Logger
}

// NewAcceptor builds an Acceptor for ep, dispatching accepted connections to
// workers via handle.
func NewAcceptor(ep *Endpoint, gate *Gate, workers *pool.Pool, pace *Pacer, handle Handler, clk clock.Clock, log corelog.Logger) *Acceptor {
	return &Acceptor{ep: ep, gate: gate, workers: workers, pace: pace, handle: handle, clk: clk, log: log}
}

// Run blocks accepting connections on ep until ctx is done or ep is shut
// down (original_source cache_acceptor.c's vca_accept_task, minus the
// thread-pool-per-listen-socket bookkeeping Go's scheduler makes
// unnecessary).
func (a *Acceptor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !a.gate.isOpen() {
			if a.ep.closing() {
				return
			}
			a.sleep(ctx, 100*time.Millisecond)
			continue
		}

		ep := a.ep
		ep.mu.Lock()
		ln := ep.listener
		ep.mu.Unlock()
		if ln == nil {
			return
		}

		if d := a.pace.Delay(); d > 0 {
			a.sleep(ctx, d)
		}

		conn, err := ln.Accept()
		if err != nil {
			if a.handleAcceptError(ctx, err) {
				return
			}
			continue
		}

		a.pace.Good()
		a.ep.applyOptions(conn, a.log)
		a.dispatch(ctx, conn)
	}
}

// handleAcceptError classifies one accept(2) failure and reports whether
// the acceptor should stop entirely.
func (a *Acceptor) handleAcceptError(ctx context.Context, err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if a.ep.closing() {
		a.sleep(ctx, 2*time.Second)
		return false
	}

	switch {
	case isTransient(err):
		if a.log != nil {
			a.log.Debug("accept: transient error", "endpoint", a.ep.Name, "err", err)
		}
	case isResourceExhaustion(err):
		a.pace.Bad()
		if a.log != nil {
			a.log.Warn("accept: resource exhaustion, pacing", "endpoint", a.ep.Name, "err", err, "pace", a.pace.Delay())
		}
	default:
		a.pace.Bad()
		if a.log != nil {
			a.log.Error("accept: unexpected error", "endpoint", a.ep.Name, "err", err)
		}
	}
	return false
}

// dispatch hands conn to the worker pool at request priority. If the pool
// has no capacity to take it (Task returns false), the accept loop handles
// the connection itself inline before resuming accepts (original_source's
// "couldn't get another thread, so handle the request in this worker
// thread" inverted-scheduling fallback).
func (a *Acceptor) dispatch(ctx context.Context, conn net.Conn) {
	ok := a.workers.Task(func(taskCtx context.Context, _ []byte) {
		a.handle(taskCtx, conn)
	}, pool.PrioREQ)
	if !ok {
		a.handle(ctx, conn)
	}
}

func (a *Acceptor) sleep(ctx context.Context, d time.Duration) {
	t := a.clk.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C():
	}
}

// isTransient reports errors original_source counts (ECONNABORTED, EINTR)
// without pacing, since they indicate a peer that went away mid-handshake
// rather than local resource pressure.
func isTransient(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNABORTED || errno == syscall.EINTR
	}
	return false
}

// isResourceExhaustion reports the errno set original_source's
// vca_pace_bad() guards (EMFILE, EBADF, ENOBUFS, ENOMEM), plus ENFILE.
func isResourceExhaustion(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EMFILE, syscall.ENFILE, syscall.EBADF, syscall.ENOBUFS, syscall.ENOMEM:
			return true
		}
	}
	return false
}
