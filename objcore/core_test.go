package objcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/digest"
)

func TestNewCoreStartsBusyAndNew(t *testing.T) {
	head := NewHead(digest.Fingerprint{1, 2, 3})
	core := NewCore(head)

	require.True(t, core.HasFlag(Busy))
	require.Equal(t, ExpNew, core.ExpFlagsGet())
	require.EqualValues(t, 1, core.Refcount())
}

func TestFlagSetClear(t *testing.T) {
	head := NewHead(digest.Fingerprint{})
	core := NewCore(head)

	core.ClearFlag(Busy)
	require.False(t, core.HasFlag(Busy))

	core.SetFlag(Dying)
	require.True(t, core.HasFlag(Dying))
	require.False(t, core.HasFlag(Failed))
}

func TestHeadRefcountLifecycle(t *testing.T) {
	head := NewHead(digest.Fingerprint{9})
	require.EqualValues(t, 1, head.Refcount)

	head.Ref()
	require.EqualValues(t, 2, head.Refcount)

	require.False(t, head.Deref())
	require.True(t, head.Deref())
}

func TestCoreRefcount(t *testing.T) {
	head := NewHead(digest.Fingerprint{})
	core := NewCore(head)

	require.EqualValues(t, 2, core.Ref())
	require.EqualValues(t, 1, core.Deref())
	require.EqualValues(t, 0, core.Deref())
}
