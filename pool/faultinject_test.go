package pool

import (
	"context"
	"testing"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
)

func TestFaultInjectorPattern(t *testing.T) {
	f := NewFaultInjector()
	if f.Check(0) {
		t.Fatal("fresh injector should never fail")
	}

	if err := f.SetPattern("1010"); err != nil {
		t.Fatalf("SetPattern: %v", err)
	}
	want := []bool{false, true, false, true}
	for i, w := range want {
		if got := f.Check(uint64(i)); got != w {
			t.Errorf("Check(%d) = %v, want %v", i, got, w)
		}
	}
	if got := f.Check(4); got != want[0] {
		t.Errorf("Check wraps modulo pattern length: got %v want %v", got, want[0])
	}

	if err := f.SetPattern("12"); err == nil {
		t.Fatal("expected error for invalid character")
	}

	f.Clear()
	if f.Check(0) {
		t.Fatal("Clear should reset to never-fail")
	}
}

func TestPoolAppliesFaultInjectorToReqPriority(t *testing.T) {
	p := New("t", Config{Min: 0, Max: 1}, clock.System{}, corelog.Discard(), nil)
	f := NewFaultInjector()
	_ = f.SetPattern("1")
	p.SetFaultInjector(f)

	if p.Task(func(context.Context, []byte) {}, PrioREQ) {
		t.Fatal("expected REQ task to be rejected by fault injector")
	}
}
