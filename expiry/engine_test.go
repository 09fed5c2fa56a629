package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

func newTestEngine(t *testing.T, clk clock.Clock, killed *[]*objcore.Core) (*Engine, context.CancelFunc) {
	t.Helper()
	e := New(Config{}, clk, corelog.Discard(), func(c *objcore.Core) {
		*killed = append(*killed, c)
		c.SetFlag(objcore.Dying)
	})
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e, cancel
}

func newCoreAt(origin time.Time, ttl time.Duration) *objcore.Core {
	h := objcore.NewHead(digest.Fingerprint{})
	c := objcore.NewCore(h)
	c.TOrigin = origin
	c.TTL = ttl
	return c
}

func TestInsertThenExpire(t *testing.T) {
	clk := clock.NewMock()
	var killed []*objcore.Core
	e, _ := newTestEngine(t, clk, &killed)

	c := newCoreAt(clk.Now(), time.Second)
	e.RefNewObjcore(c)
	e.Insert(c)

	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return len(killed) == 1 }, time.Second, time.Millisecond)
	require.Same(t, c, killed[0])
}

func TestInsertZeroTTLExpiresImmediately(t *testing.T) {
	clk := clock.NewMock()
	var killed []*objcore.Core
	e, _ := newTestEngine(t, clk, &killed)

	c := newCoreAt(clk.Now(), 0)
	e.RefNewObjcore(c)
	e.Insert(c)

	require.Eventually(t, func() bool { return len(killed) == 1 }, time.Second, time.Millisecond)
}

func TestInsertRemoveLeavesHeapUnchanged(t *testing.T) {
	clk := clock.NewMock()
	var killed []*objcore.Core
	e, _ := newTestEngine(t, clk, &killed)

	before := e.Len()
	c := newCoreAt(clk.Now(), time.Hour)
	e.RefNewObjcore(c)
	e.Insert(c)
	require.Eventually(t, func() bool { return e.Len() == before+1 }, time.Second, time.Millisecond)

	e.Remove(c)
	require.Eventually(t, func() bool { return e.Len() == before }, time.Second, time.Millisecond)
	require.Empty(t, killed)
}

func TestRemoveBeforeEngineSeesInsertIsImmediate(t *testing.T) {
	clk := clock.NewMock()
	var killed []*objcore.Core
	e := New(Config{}, clk, corelog.Discard(), func(c *objcore.Core) {
		killed = append(killed, c)
	})

	c := newCoreAt(clk.Now(), time.Hour)
	e.RefNewObjcore(c)
	require.True(t, c.ExpFlagsGet()&objcore.ExpNew != 0)

	e.Remove(c)
	require.Equal(t, objcore.ExpFlags(0), c.ExpFlagsGet())
}

func TestHeapOrderingInvariant(t *testing.T) {
	h := coreHeap{}
	base := time.Unix(1700000000, 0)
	c1 := newCoreAt(base, 30*time.Second)
	c1.TimerWhen = timerWhen(c1)
	c2 := newCoreAt(base, 10*time.Second)
	c2.TimerWhen = timerWhen(c2)
	c3 := newCoreAt(base, 20*time.Second)
	c3.TimerWhen = timerWhen(c3)

	for _, c := range []*objcore.Core{c1, c2, c3} {
		h = append(h, c)
	}
	require.True(t, h.Less(1, 0) || !h.Less(0, 1))
}
