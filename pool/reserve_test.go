package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestReserveSemaphoreBoundsVitalOverflow exercises the submit()-level
// reserve carve-out: once the pool is saturated at Max, BO/RUSH tasks may
// still be admitted but only up to cfg.Reserve of them at a time.
func TestReserveSemaphoreBoundsVitalOverflow(t *testing.T) {
	p := newTestPool(t, Config{Min: 1, Max: 1, Reserve: 1, QueueLimit: 8})

	started := make(chan struct{})
	block := make(chan struct{})
	ok := p.Task(func(ctx context.Context, arg []byte) {
		close(started)
		<-block
	}, PrioBO)
	require.True(t, ok)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first task never started")
	}

	// The sole worker is now busy; nThreads(1) >= Max(1) so every further
	// submission rides the reserve carve-out. One BO task should still fit
	// (reserve capacity 1)...
	second := p.Task(func(context.Context, []byte) {}, PrioBO)
	require.True(t, second, "one vital task should still fit in the reserve")

	// ...but a second exceeds the reserve and should be dropped.
	third := p.Task(func(context.Context, []byte) {}, PrioBO)
	require.False(t, third, "a further vital task should exceed the reserve")

	close(block)
}
