package objindex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

type fakeExpiry struct {
	refNewed, inserted, removed []*objcore.Core
}

func (f *fakeExpiry) RefNewObjcore(c *objcore.Core) { f.refNewed = append(f.refNewed, c) }
func (f *fakeExpiry) Insert(c *objcore.Core)        { f.inserted = append(f.inserted, c) }
func (f *fakeExpiry) Remove(c *objcore.Core)        { f.removed = append(f.removed, c) }
func (f *fakeExpiry) Rearm(c *objcore.Core, ttl, grace, keep time.Duration) {
	c.TTL, c.Grace, c.Keep = ttl, grace, keep
}
func (f *fakeExpiry) Reduce(c *objcore.Core, ttl, grace, keep time.Duration) {}

func newTestIndex(t *testing.T) (*Index, *fakeExpiry, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	fe := &fakeExpiry{}
	idx := New(Config{}, clk, corelog.Discard(), ban.NewList(), fe, nil)
	return idx, fe, clk
}

func fp(b byte) digest.Fingerprint {
	var f digest.Fingerprint
	f[0] = b
	return f
}

func TestLookupMissThenHitAfterUnbusy(t *testing.T) {
	idx, _, clk := newTestIndex(t)

	out := idx.Lookup(&LookupRequest{Digest: fp(1)})
	require.Equal(t, MISS, out.Result)
	require.NotNil(t, out.Busy)

	core := out.Busy
	core.TTL = 10 * time.Second
	core.TOrigin = clk.Now()
	idx.Unbusy(core)

	out2 := idx.Lookup(&LookupRequest{Digest: fp(1)})
	require.Equal(t, HIT, out2.Result)
	require.Same(t, core, out2.Primary)
	require.EqualValues(t, 2, core.Refcount())
}

func TestLookupCoalescesOnBusy(t *testing.T) {
	idx, _, _ := newTestIndex(t)

	first := idx.Lookup(&LookupRequest{Digest: fp(2)})
	require.Equal(t, MISS, first.Result)

	second := idx.Lookup(&LookupRequest{Digest: fp(2)})
	require.Equal(t, BUSY, second.Result)
	require.NotNil(t, second.Wait)
	require.Same(t, first.Busy, second.Busy)
}

// TestLookupCoalescesOnBusyConcurrent drives many concurrent first-time
// Lookup calls against the same cold fingerprint and requires that exactly
// one of them inserts the BUSY core (spec.md §8 invariant 1: "at most one
// worker thread references C as 'my fetch' at any time", end-to-end
// scenario 1's coalesced MISS). TestLookupCoalescesOnBusy above only calls
// Lookup sequentially and can't exercise the race between the "does a busy
// core already exist" classification and the insert.
func TestLookupCoalescesOnBusyConcurrent(t *testing.T) {
	idx, _, _ := newTestIndex(t)

	const n = 32
	outcomes := make([]LookupOutcome, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			outcomes[i] = idx.Lookup(&LookupRequest{Digest: fp(20)})
		}()
	}
	close(start)
	wg.Wait()

	misses, busies := 0, 0
	var missCore *objcore.Core
	for _, out := range outcomes {
		switch out.Result {
		case MISS:
			misses++
			missCore = out.Busy
		case BUSY:
			busies++
			require.NotNil(t, out.Wait)
		default:
			t.Fatalf("unexpected result %v", out.Result)
		}
	}
	require.Equal(t, 1, misses, "exactly one caller should win the fetch")
	require.Equal(t, n-1, busies)
	require.NotNil(t, missCore)

	head := idx.getOrCreateHead(fp(20))
	head.Mu.Lock()
	busyCount := 0
	for _, core := range head.Cores {
		if core.HasFlag(objcore.Busy) {
			busyCount++
		}
	}
	head.Mu.Unlock()
	require.Equal(t, 1, busyCount, "only one BUSY core should have been inserted")
}

func TestUnbusyRushesWaiters(t *testing.T) {
	idx, _, clk := newTestIndex(t)

	first := idx.Lookup(&LookupRequest{Digest: fp(3)})
	second := idx.Lookup(&LookupRequest{Digest: fp(3)})
	require.Equal(t, BUSY, second.Result)

	first.Busy.TTL = time.Minute
	first.Busy.TOrigin = clk.Now()
	idx.Unbusy(first.Busy)

	select {
	case <-second.Wait:
	default:
		t.Fatal("expected waiter to be rushed")
	}
}

func TestUnbusyWakesAllWaitersOnFailure(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	idx.cfg.RushExponent = 1

	first := idx.Lookup(&LookupRequest{Digest: fp(4)})
	var waiters []LookupOutcome
	for i := 0; i < 3; i++ {
		waiters = append(waiters, idx.Lookup(&LookupRequest{Digest: fp(4)}))
	}

	first.Busy.SetFlag(objcore.Failed)
	idx.Unbusy(first.Busy)

	for _, w := range waiters {
		select {
		case <-w.Wait:
		default:
			t.Fatal("expected every waiter to be woken on failure")
		}
	}
}

func TestGraceServesStaleAndKicksRefetch(t *testing.T) {
	idx, _, clk := newTestIndex(t)

	first := idx.Lookup(&LookupRequest{Digest: fp(5)})
	first.Busy.TTL = time.Second
	first.Busy.Grace = time.Minute
	first.Busy.TOrigin = clk.Now()
	idx.Unbusy(first.Busy)

	clk.Advance(2 * time.Second)

	out := idx.Lookup(&LookupRequest{Digest: fp(5)})
	require.Equal(t, GRACE, out.Result)
	require.Same(t, first.Busy, out.Primary)
	require.NotNil(t, out.Busy)
}

// TestGraceRefetchCoalescesConcurrent drives many concurrent Lookup calls
// against a fingerprint already in GRACE and requires that only one of them
// kicks off a refetch (spec.md §8 invariant 1, end-to-end scenario 2's
// GRACE-refetch coalescing).
func TestGraceRefetchCoalescesConcurrent(t *testing.T) {
	idx, _, clk := newTestIndex(t)

	first := idx.Lookup(&LookupRequest{Digest: fp(21)})
	first.Busy.TTL = time.Second
	first.Busy.Grace = time.Minute
	first.Busy.TOrigin = clk.Now()
	idx.Unbusy(first.Busy)

	clk.Advance(2 * time.Second)

	const n = 32
	outcomes := make([]LookupOutcome, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-start
			outcomes[i] = idx.Lookup(&LookupRequest{Digest: fp(21)})
		}()
	}
	close(start)
	wg.Wait()

	refetches := 0
	for _, out := range outcomes {
		require.Equal(t, GRACE, out.Result)
		require.Same(t, first.Busy, out.Primary)
		if out.Busy != nil {
			refetches++
		}
	}
	require.Equal(t, 1, refetches, "exactly one caller should kick off the refetch")

	head := idx.getOrCreateHead(fp(21))
	head.Mu.Lock()
	busyCount := 0
	for _, core := range head.Cores {
		if core.HasFlag(objcore.Busy) {
			busyCount++
		}
	}
	head.Mu.Unlock()
	require.Equal(t, 1, busyCount, "only one BUSY refetch core should have been inserted")
}

func TestKillMarksDyingAndNotifiesExpiry(t *testing.T) {
	idx, fe, _ := newTestIndex(t)
	out := idx.Lookup(&LookupRequest{Digest: fp(6)})
	idx.Kill(out.Busy)

	require.True(t, out.Busy.HasFlag(objcore.Dying))
	require.Len(t, fe.removed, 1)
}

func TestSnipeRequiresSoleReference(t *testing.T) {
	idx, _, clk := newTestIndex(t)
	out := idx.Lookup(&LookupRequest{Digest: fp(7)})
	out.Busy.TTL = time.Minute
	out.Busy.TOrigin = clk.Now()
	idx.Unbusy(out.Busy)

	hit := idx.Lookup(&LookupRequest{Digest: fp(7)})
	require.False(t, idx.Snipe(hit.Primary))

	hit.Primary.Deref()
	require.True(t, idx.Snipe(hit.Primary))
}

func TestPurgeSkipsBusyCores(t *testing.T) {
	idx, fe, _ := newTestIndex(t)
	out := idx.Lookup(&LookupRequest{Digest: fp(8)})

	n := idx.Purge(out.Busy.Head, time.Second, 0, 0)
	require.Equal(t, 0, n)
	require.Empty(t, fe.removed)
}

func TestPurgeOnEmptyHeadTouchesNothing(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	head := objcore.NewHead(fp(9))
	n := idx.Purge(head, time.Second, 0, 0)
	require.Equal(t, 0, n)
}
