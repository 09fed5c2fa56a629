package ban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objcore"
)

// TestLurkerAdvancesBanPointerAndReapsOldBan exercises spec.md §4.2's
// scenario 4: a core bound to an old ban that a newer ban doesn't match
// should have its pointer advanced to the newer ban by the background
// sweep, and the old ban — now empty — should become reapable.
func TestLurkerAdvancesBanPointerAndReapsOldBan(t *testing.T) {
	list := NewList()
	clk := clock.NewMock()

	bld1 := NewBuilder()
	require.NoError(t, bld1.AddTest(ArgObjHeader, "x-kill", OpEq, "yes", 0))
	ts1 := float64(clk.Now().Unix()) - 100
	b1, err := list.Commit(bld1, ts1)
	require.NoError(t, err)

	head := objcore.NewHead(digest.Fingerprint{7})
	core := objcore.NewCore(head)
	core.Ban = b1
	list.BindObject(b1, core)
	require.EqualValues(t, 2, b1.Refcount())

	bld2 := NewBuilder()
	require.NoError(t, bld2.AddTest(ArgObjHeader, "x-kill", OpEq, "yes", 0))
	ts2 := ts1 + 50
	b2, err := list.Commit(bld2, ts2)
	require.NoError(t, err)

	core.Head.Mu.Lock()
	core.Head.Cores = append(core.Head.Cores, core)
	core.Head.Mu.Unlock()

	var killed []*objcore.Core
	lurker := NewLurker(list, LurkerConfig{AgeLimit: 10 * time.Second}, clk, corelog.Discard(), func(c *objcore.Core) {
		killed = append(killed, c)
	})

	did := lurker.sweepOnce()
	require.True(t, did)
	require.Empty(t, killed)

	require.Same(t, b2, core.Ban)
	require.EqualValues(t, 1, b1.Refcount(), "B1 should have lost core's reference")
	require.EqualValues(t, 2, b2.Refcount(), "B2 gained the list's ref plus core's")

	require.True(t, b1.IsCompleted())

	_, ok := list.FindByTimestamp(b1.Timestamp())
	require.False(t, ok, "B1 should have been reaped once empty and completed")
	require.Equal(t, 1, list.Len())
}

// TestLurkerKillsCoreMatchingNewerBan exercises the kill side of the same
// sweep: a core bound to an old ban survives that ban but matches a newer
// one in the oban set, so the lurker kills it outright instead of advancing
// its pointer.
func TestLurkerKillsCoreMatchingNewerBan(t *testing.T) {
	list := NewList()
	clk := clock.NewMock()

	bld1 := NewBuilder()
	require.NoError(t, bld1.AddTest(ArgObjStatus, "", OpEq, "", 999))
	ts1 := float64(clk.Now().Unix()) - 100
	b1, err := list.Commit(bld1, ts1)
	require.NoError(t, err)

	head := objcore.NewHead(digest.Fingerprint{9})
	core := objcore.NewCore(head)
	core.Ban = b1
	list.BindObject(b1, core)

	core.Head.Mu.Lock()
	core.Head.Cores = append(core.Head.Cores, core)
	core.Head.Mu.Unlock()

	bld2 := NewBuilder()
	require.NoError(t, bld2.AddTest(ArgAge, "", OpGe, "", 0))
	ts2 := ts1 + 50
	_, err = list.Commit(bld2, ts2)
	require.NoError(t, err)

	var killed []*objcore.Core
	lurker := NewLurker(list, LurkerConfig{AgeLimit: 10 * time.Second}, clk, corelog.Discard(), func(c *objcore.Core) {
		killed = append(killed, c)
	})

	did := lurker.sweepOnce()
	require.True(t, did)
	require.Len(t, killed, 1)
	require.Same(t, core, killed[0])
	require.EqualValues(t, 1, b1.Refcount(), "B1 lost its only object reference")
}

// TestLurkerLeavesYoungBansAlone confirms a ban younger than AgeLimit is not
// added to the oban set and the sweep reports no work.
func TestLurkerLeavesYoungBansAlone(t *testing.T) {
	list := NewList()
	clk := clock.NewMock()

	bld := NewBuilder()
	require.NoError(t, bld.AddTest(ArgObjHeader, "x-kill", OpEq, "yes", 0))
	_, err := list.Commit(bld, float64(clk.Now().Unix()))
	require.NoError(t, err)

	lurker := NewLurker(list, LurkerConfig{AgeLimit: time.Hour}, clk, corelog.Discard(), func(c *objcore.Core) {
		t.Fatal("kill should not be called")
	})

	require.False(t, lurker.sweepOnce())
}
