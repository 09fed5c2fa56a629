package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New("test", cfg, clock.System{}, corelog.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go p.Herder(ctx)
	t.Cleanup(func() {
		cancel()
		p.Shutdown()
	})
	return p
}

func TestTaskRunsOnWorker(t *testing.T) {
	p := newTestPool(t, Config{Min: 1, Max: 2})

	var ran atomic.Bool
	done := make(chan struct{})
	ok := p.Task(func(ctx context.Context, arg []byte) {
		ran.Store(true)
		close(done)
	}, PrioREQ)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	require.True(t, ran.Load())
}

func TestTaskArgCopiesAndTruncates(t *testing.T) {
	p := newTestPool(t, Config{Min: 1, Max: 2, ArgSize: 4})

	got := make(chan []byte, 1)
	src := []byte("0123456789")
	p.TaskArg(func(ctx context.Context, arg []byte) {
		got <- arg
	}, PrioREQ, src)

	select {
	case arg := <-got:
		require.Equal(t, []byte("0123"), arg)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestPoolDrainsHighPriorityFirst(t *testing.T) {
	p := newTestPool(t, Config{Min: 1, Max: 1})

	// Hold the single worker busy so both tasks queue up before either runs.
	hold := make(chan struct{})
	release := make(chan struct{})
	p.Task(func(ctx context.Context, arg []byte) {
		close(hold)
		<-release
	}, PrioBG)
	<-hold

	order := make(chan Priority, 2)
	p.Task(func(ctx context.Context, arg []byte) { order <- PrioBG }, PrioBG)
	p.Task(func(ctx context.Context, arg []byte) { order <- PrioBO }, PrioBO)
	close(release)

	require.Equal(t, PrioBO, <-order)
	require.Equal(t, PrioBG, <-order)
}

func TestSetTaskAnyPicksLeastLoaded(t *testing.T) {
	// No herder running: these pools only exercise queue-selection logic.
	a := New("a", Config{QueueLimit: 16}, clock.System{}, corelog.Discard(), nil)
	b := New("b", Config{QueueLimit: 16}, clock.System{}, corelog.Discard(), nil)
	set := NewSet(a, b)

	a.queues[PrioBG] <- queuedTask{fn: func(ctx context.Context, arg []byte) {}}

	ok := set.TaskAny(func(ctx context.Context, arg []byte) {}, PrioBG)
	require.True(t, ok)
	require.Equal(t, 1, b.Len())
	require.Equal(t, 1, a.Len())
}

func TestReserveBlocksLowPriorityWhenNoIdleWorkers(t *testing.T) {
	p := New("p", Config{Reserve: 6, QueueLimit: 1}, clock.System{}, corelog.Discard(), nil)
	require.False(t, p.reserveAllows(PrioBG, 0))
	require.False(t, p.reserveAllows(PrioBO, 0))
}
