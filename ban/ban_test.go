package ban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/objcore"
)

func TestValidateMatrixRejectsRegexOnDuration(t *testing.T) {
	require.Error(t, validate(ArgTTL, OpMatch))
	require.NoError(t, validate(ArgTTL, OpLe))
	require.NoError(t, validate(ArgURL, OpMatch))
	require.Error(t, validate(ArgURL, OpLt))
}

func TestBuilderRequiresFieldForHeaderArgs(t *testing.T) {
	b := NewBuilder()
	err := b.AddTest(ArgObjHeader, "", OpEq, "text/html", 0)
	require.Error(t, err)

	err = b.AddTest(ArgObjHeader, "content-type", OpEq, "text/html", 0)
	require.NoError(t, err)
}

func TestCommitDeduplicatesIdenticalBan(t *testing.T) {
	list := NewList()

	b1 := NewBuilder()
	require.NoError(t, b1.AddTest(ArgURL, "", OpMatch, "^/foo", 0))
	first, err := list.Commit(b1, 1.0)
	require.NoError(t, err)

	b2 := NewBuilder()
	require.NoError(t, b2.AddTest(ArgURL, "", OpMatch, "^/foo", 0))
	second, err := list.Commit(b2, 2.0)
	require.NoError(t, err)

	require.True(t, first.IsCompleted())
	require.False(t, second.IsCompleted())
}

func TestCommitNodedupSkipsCancellation(t *testing.T) {
	list := NewList()

	b1 := NewBuilder()
	require.NoError(t, b1.AddTest(ArgURL, "", OpEq, "/x", 0))
	b1.SetNodedup()
	first, err := list.Commit(b1, 1.0)
	require.NoError(t, err)

	b2 := NewBuilder()
	require.NoError(t, b2.AddTest(ArgURL, "", OpEq, "/x", 0))
	_, err = list.Commit(b2, 2.0)
	require.NoError(t, err)

	require.False(t, first.IsCompleted())
}

func TestCommitMonotonicTimestamps(t *testing.T) {
	list := NewList()
	b1 := NewBuilder()
	require.NoError(t, b1.AddTest(ArgURL, "", OpEq, "/a", 0))
	first, err := list.Commit(b1, 5.0)
	require.NoError(t, err)

	b2 := NewBuilder()
	require.NoError(t, b2.AddTest(ArgURL, "", OpEq, "/b", 0))
	second, err := list.Commit(b2, 5.0)
	require.NoError(t, err)

	require.Greater(t, second.Timestamp(), first.Timestamp())
}

func TestFindByTimestampAndAtIndex(t *testing.T) {
	list := NewList()
	b1 := NewBuilder()
	require.NoError(t, b1.AddTest(ArgURL, "", OpEq, "/a", 0))
	a, err := list.Commit(b1, 1.0)
	require.NoError(t, err)

	found, ok := list.FindByTimestamp(a.Timestamp())
	require.True(t, ok)
	require.Same(t, a, found)

	byIdx, err := list.AtIndex(0)
	require.NoError(t, err)
	require.Same(t, a, byIdx)

	_, err = list.AtIndex(5)
	require.Error(t, err)
}

func TestMatchesURLEquality(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddTest(ArgURL, "", OpEq, "/foo", 0))
	bn, err := b.build(1.0)
	require.NoError(t, err)

	require.True(t, bn.Matches(&RequestContext{URL: "/foo"}, nil))
	require.False(t, bn.Matches(&RequestContext{URL: "/bar"}, nil))
}

func TestMatchesObjHeaderRegex(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddTest(ArgObjHeader, "content-type", OpMatch, "^text/", 0))
	bn, err := b.build(1.0)
	require.NoError(t, err)

	ctx := &ObjectContext{
		Headers: func(name string) (string, bool) {
			if name == "content-type" {
				return "text/html", true
			}
			return "", false
		},
		Core: &objcore.Core{},
	}
	require.True(t, bn.Matches(nil, ctx))
}

func TestMatchesTTLOrdering(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddTest(ArgTTL, "", OpLt, "", 10))
	bn, err := b.build(1.0)
	require.NoError(t, err)

	core := &objcore.Core{TTL: 5 * time.Second}
	ctx := &ObjectContext{Core: core}
	require.True(t, bn.Matches(nil, ctx))

	core2 := &objcore.Core{TTL: 20 * time.Second}
	ctx2 := &ObjectContext{Core: core2}
	require.False(t, bn.Matches(nil, ctx2))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddTest(ArgURL, "", OpMatch, "^/foo", 0))
	require.NoError(t, b.AddTest(ArgObjStatus, "", OpGe, "", 500))
	bn, err := b.build(123.456)
	require.NoError(t, err)

	wire := Encode(bn)
	decoded, err := Decode(wire)
	require.NoError(t, err)

	require.Equal(t, bn.Timestamp(), decoded.Timestamp())
	require.Len(t, decoded.Tests(), 2)
	require.Equal(t, ArgURL, decoded.Tests()[0].Arg)
	require.Equal(t, ArgObjStatus, decoded.Tests()[1].Arg)
	require.Equal(t, float64(500), decoded.Tests()[1].Duration)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestObjListEachAllowsRemoval(t *testing.T) {
	l := newObjList()
	h := objcore.NewHead(digest.Fingerprint{})
	c1 := objcore.NewCore(h)
	c2 := objcore.NewCore(h)
	n1 := l.insert(c1)
	l.insert(c2)

	seen := 0
	l.each(func(n *objNode) bool {
		seen++
		if n == n1 {
			n.remove()
		}
		return true
	})
	require.Equal(t, 2, seen)

	remaining := 0
	l.each(func(n *objNode) bool {
		remaining++
		return true
	})
	require.Equal(t, 1, remaining)
}

func TestReapUnlinksCompletedEmptyBans(t *testing.T) {
	list := NewList()
	b1 := NewBuilder()
	require.NoError(t, b1.AddTest(ArgURL, "", OpEq, "/a", 0))
	first, err := list.Commit(b1, 1.0)
	require.NoError(t, err)
	list.Cancel(first)

	require.Equal(t, 1, list.Len())
	reaped := list.Reap()
	require.Equal(t, 1, reaped)
	require.Equal(t, 0, list.Len())
}
