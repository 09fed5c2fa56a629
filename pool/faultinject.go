package pool

import (
	"fmt"
	"sync"

	"github.com/willf/bitset"
)

// FaultInjector reproduces original_source/bin/varnishd/cache/cache_wrk.c's
// reqpoolfail debug knob: a bit-indexed failure pattern consulted on every
// PrioREQ submission, so an operator can script exact failure sequences
// instead of a single always/never toggle (spec.md §6 debug surface,
// SPEC_FULL §5 "reqpoolfail bit semantics").
type FaultInjector struct {
	mu  sync.Mutex
	set *bitset.BitSet
}

// NewFaultInjector returns an injector with every bit clear (never fails).
func NewFaultInjector() *FaultInjector {
	return &FaultInjector{set: bitset.New(1)}
}

// SetPattern replaces the failure pattern with a string of '0'/'1'
// characters, most-significant bit first, the way a binary literal is
// written: the last character is bit 0. debug.reqpoolfail passes its
// argument through unchanged, so any other character is rejected.
func (f *FaultInjector) SetPattern(bits string) error {
	if bits == "" {
		return fmt.Errorf("pool: reqpoolfail: empty pattern")
	}
	set := bitset.New(uint(len(bits)))
	for i, r := range bits {
		switch r {
		case '1':
			set.Set(uint(len(bits) - 1 - i))
		case '0':
			// leave clear
		default:
			return fmt.Errorf("pool: reqpoolfail: invalid character %q, want 0 or 1", r)
		}
	}
	f.mu.Lock()
	f.set = set
	f.mu.Unlock()
	return nil
}

// Clear resets the injector to never-fail.
func (f *FaultInjector) Clear() {
	f.mu.Lock()
	f.set = bitset.New(1)
	f.mu.Unlock()
}

// Check consults the pattern for request number n (spec.md's "consulted by
// request number modulo bitset length"), returning true if the submission
// for n should be made to fail.
func (f *FaultInjector) Check(n uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	length := f.set.Len()
	if length == 0 {
		return false
	}
	return f.set.Test(uint(n % uint64(length)))
}

// String renders the current pattern as a '0'/'1' string, most-significant
// bit first, for debug.reqpoolfail's status output.
func (f *FaultInjector) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.set.Len()
	b := make([]byte, n)
	for i := uint(0); i < n; i++ {
		if f.set.Test(n - 1 - i) {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
