package cachecore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/ban"
	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/internal/clock"
	"github.com/reveno/cachecore/internal/config"
	"github.com/reveno/cachecore/internal/corelog"
	"github.com/reveno/cachecore/objindex"
	"github.com/reveno/cachecore/policy"
	"github.com/reveno/cachecore/stevedore"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := config.Config{
		Pools: []config.PoolSpec{{Name: "default", Min: 1, Max: 2}},
	}
	store := stevedore.NewMemStore(1 << 20)
	t.Cleanup(func() { _ = store.Close() })

	c, err := New(cfg, corelog.Discard(), clock.System{}, store, policy.DefaultHooks(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)
	t.Cleanup(c.Stop)
	return c
}

func TestLookupMissThenCompleteFetchThenHit(t *testing.T) {
	c := newTestCache(t)

	fp := digest.Fingerprint{1, 2, 3}
	out := c.Index.Lookup(&objindex.LookupRequest{Digest: fp})
	require.Equal(t, objindex.MISS, out.Result)
	require.NotNil(t, out.Busy)

	err := c.CompleteFetch(out.Busy, [32]byte(fp), FetchResult{
		Body:  []byte("hello"),
		Attrs: map[string]string{"content-type": "text/plain"},
		TTL:   time.Minute,
	})
	require.NoError(t, err)

	out2 := c.Index.Lookup(&objindex.LookupRequest{Digest: fp})
	require.Equal(t, objindex.HIT, out2.Result)
	require.Same(t, out.Busy, out2.Primary)

	key, ok := coreStorageKey(out2.Primary)
	require.True(t, ok)
	ct, ok := c.attr(out2.Primary, "content-type")
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)
	_ = key
}

func TestCompleteFetchFailureRushesWaiters(t *testing.T) {
	c := newTestCache(t)

	fp := digest.Fingerprint{9, 9, 9}
	out := c.Index.Lookup(&objindex.LookupRequest{Digest: fp})
	require.Equal(t, objindex.MISS, out.Result)

	parked := c.Index.Lookup(&objindex.LookupRequest{Digest: fp})
	require.Equal(t, objindex.BUSY, parked.Result)

	err := c.CompleteFetch(out.Busy, [32]byte(fp), FetchResult{Failed: true})
	require.NoError(t, err)

	select {
	case <-parked.Wait:
	case <-time.After(time.Second):
		t.Fatal("waiter was not rushed after failed fetch")
	}
}

func TestCommitBanLinksAtHead(t *testing.T) {
	c := newTestCache(t)
	c.Notifier = nil // exercised separately; here just confirm Commit works standalone

	bld := ban.NewBuilder()
	require.NoError(t, bld.AddTest(ban.ArgURL, "", ban.OpEq, "/foo", 0))
	b, err := c.CommitBan(bld)
	require.NoError(t, err)
	require.Equal(t, 1, c.Bans.Len())
	require.Equal(t, b, c.Bans.Head())
}
