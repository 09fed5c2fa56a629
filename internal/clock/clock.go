// Package clock provides an injectable notion of time so that expiry,
// pacing, and lurker scheduling can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts wall-clock and monotonic time access. The production
// implementation is System; tests substitute a Mock.
//
// Grounded on p2p/discover/common.go's mclock.Clock field on Config, which
// the teacher injects for the same reason (deterministic discovery tests).
type Clock interface {
	Now() time.Time
	Since(time.Time) time.Duration
	After(time.Duration) <-chan time.Time
	NewTimer(time.Duration) Timer
}

// Timer mirrors the subset of time.Timer used by this module's loops, so
// that Mock can hand out controllable timers.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(time.Duration) bool
}

// System is the production Clock backed by the real wall clock.
type System struct{}

func (System) Now() time.Time                  { return time.Now() }
func (System) Since(t time.Time) time.Duration { return time.Since(t) }
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (System) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time       { return s.t.C }
func (s *systemTimer) Stop() bool                { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
