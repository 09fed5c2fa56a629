package stevedore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(b byte) Key {
	var k Key
	k.Fingerprint[0] = b
	k.Generation = 1
	return k
}

func TestMemStorePutGetBody(t *testing.T) {
	s := NewMemStore(1 << 20)
	k := testKey(1)
	require.NoError(t, s.Put(k, []byte("hello"), map[string]string{"content-type": "text/plain"}))

	body, err := s.Body(k)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)

	v, ok := s.Attr(k, "content-type")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)
	require.True(t, s.HasAttr(k, "content-type"))
	require.False(t, s.HasAttr(k, "missing"))
}

func TestMemStoreBodyNotFound(t *testing.T) {
	s := NewMemStore(1 << 20)
	_, err := s.Body(testKey(9))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreFreeContentKeepsAttrs(t *testing.T) {
	s := NewMemStore(1 << 20)
	k := testKey(2)
	require.NoError(t, s.Put(k, []byte("body"), map[string]string{"x": "y"}))

	require.NoError(t, s.FreeContent(k))
	_, err := s.Body(k)
	require.ErrorIs(t, err, ErrNotFound)

	v, ok := s.Attr(k, "x")
	require.True(t, ok)
	require.Equal(t, "y", v)
}

func TestMemStoreDestroyRemovesEverything(t *testing.T) {
	s := NewMemStore(1 << 20)
	k := testKey(3)
	require.NoError(t, s.Put(k, []byte("body"), map[string]string{"x": "y"}))
	require.NoError(t, s.Destroy(k))

	_, err := s.Body(k)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, s.HasAttr(k, "x"))
}

func TestMemStoreRejectsOversizedBody(t *testing.T) {
	s := NewMemStore(4)
	err := s.Put(testKey(4), []byte("too big"), nil)
	require.ErrorIs(t, err, ErrOutOfSpace)
}
