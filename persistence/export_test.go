package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/ban"
)

func commitURLBan(t *testing.T, list *ban.List, now float64, url string) *ban.Ban {
	t.Helper()
	bld := ban.NewBuilder()
	require.NoError(t, bld.AddTest(ban.ArgURL, "", ban.OpEq, url, 0))
	b, err := list.Commit(bld, now)
	require.NoError(t, err)
	return b
}

func TestExportImportRoundTrip(t *testing.T) {
	src := ban.NewList()
	commitURLBan(t, src, 1000, "/a")
	commitURLBan(t, src, 1001, "/b")
	commitURLBan(t, src, 1002, "/c")

	blob := Export(src)
	require.NotEmpty(t, blob)

	dst := ban.NewList()
	n, err := Import(dst, blob, 2000)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, dst.Len())

	head := dst.Head()
	require.NotNil(t, head)
	require.Equal(t, float64(1002), head.Timestamp())
}

func TestImportRejectsTruncatedBlob(t *testing.T) {
	dst := ban.NewList()
	_, err := Import(dst, []byte{1, 2, 3}, 0)
	require.Error(t, err)
}

type fakeStore struct {
	newCalls, dropCalls int
	exportCalls         int
	wantFullExport      bool
}

func (f *fakeStore) BanInfoNew(record []byte) bool  { f.newCalls++; return f.wantFullExport }
func (f *fakeStore) BanInfoDrop(record []byte) bool { f.dropCalls++; return f.wantFullExport }
func (f *fakeStore) BanExport(blob []byte)          { f.exportCalls++ }

func TestNotifierRequestsFullExportWhenStoreAsks(t *testing.T) {
	list := ban.NewList()
	b := commitURLBan(t, list, 1000, "/a")

	store := &fakeStore{wantFullExport: true}
	n := NewNotifier(list, store)
	n.NotifyCommitted(b)

	require.Equal(t, 1, store.newCalls)
	require.Equal(t, 1, store.exportCalls)
}

func TestNotifierSkipsExportWhenStoreDoesNotAsk(t *testing.T) {
	list := ban.NewList()
	b := commitURLBan(t, list, 1000, "/a")

	store := &fakeStore{wantFullExport: false}
	n := NewNotifier(list, store)
	n.NotifyCommitted(b)

	require.Equal(t, 1, store.newCalls)
	require.Zero(t, store.exportCalls)
}
