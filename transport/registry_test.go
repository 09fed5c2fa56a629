package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsSequentialNumbers(t *testing.T) {
	r := NewRegistry(0)
	h1, err := r.Register("h1")
	require.NoError(t, err)
	require.Equal(t, 0, h1.Number)

	h2, err := r.Register("h2")
	require.NoError(t, err)
	require.Equal(t, 1, h2.Number)
}

func TestRegisterDuplicateNameErrors(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Register("pg")
	require.NoError(t, err)
	_, err = r.Register("pg")
	require.Error(t, err)
}

func TestLookupByNameAndNumber(t *testing.T) {
	r := NewRegistry(0)
	want, err := r.Register("h2")
	require.NoError(t, err)

	byName, ok := r.LookupByName("h2")
	require.True(t, ok)
	require.Equal(t, want, byName)

	byNumber, ok := r.LookupByNumber(want.Number)
	require.True(t, ok)
	require.Equal(t, want, byNumber)

	_, ok = r.LookupByName("missing")
	require.False(t, ok)
	_, ok = r.LookupByNumber(99)
	require.False(t, ok)
}
