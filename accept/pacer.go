// Package accept implements the listener lifecycle and the per-pool accept
// loop that turns raw connections into dispatched worker tasks (spec.md
// §4.5 "Acceptor").
package accept

import (
	"sync"
	"time"
)

// PacerConfig tunes the linear-grow, multiplicative-decay backoff applied after resource-exhaustion
// accept errors (spec.md §4.5 "Pacer"; original_source's
// acceptor_sleep_incr/acceptor_sleep_max/acceptor_sleep_decay parameters).
type PacerConfig struct {
	Incr  time.Duration
	Max   time.Duration
	Decay float64
}

func (c PacerConfig) withDefaults() PacerConfig {
	if c.Incr <= 0 {
		c.Incr = 5 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 50 * time.Millisecond
	}
	if c.Decay <= 0 {
		c.Decay = 0.9
	}
	return c
}

// Pacer tracks the current self-imposed accept delay. Bad() grows it
// linearly up to Max; Good() decays it multiplicatively, snapping to zero
// once it falls under Incr (original_source cache_acceptor.c's
// vca_pace_bad/vca_pace_good).
type Pacer struct {
	cfg PacerConfig

	mu   sync.Mutex
	pace time.Duration
}

// NewPacer constructs a Pacer at zero delay.
func NewPacer(cfg PacerConfig) *Pacer {
	return &Pacer{cfg: cfg.withDefaults()}
}

// Bad records a resource-exhaustion accept failure (EMFILE, ENOMEM, and
// similar), increasing the pace.
func (p *Pacer) Bad() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pace += p.cfg.Incr
	if p.pace > p.cfg.Max {
		p.pace = p.cfg.Max
	}
}

// Good records a successful accept, decaying the pace toward zero.
func (p *Pacer) Good() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pace == 0 {
		return
	}
	p.pace = time.Duration(float64(p.pace) * p.cfg.Decay)
	if p.pace < p.cfg.Incr {
		p.pace = 0
	}
}

// Delay returns the current self-imposed pace.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pace
}
