package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reveno/cachecore/digest"
	"github.com/reveno/cachecore/objcore"
)

func TestDefaultHooksDeferToCoreFlags(t *testing.T) {
	h := DefaultHooks()
	head := objcore.NewHead(digest.Fingerprint{})
	core := objcore.NewCore(head)

	require.False(t, h.HitClass.IsHitMiss(core))
	core.SetFlag(objcore.HitMiss)
	require.True(t, h.HitClass.IsHitMiss(core))

	require.False(t, h.BanCheck.BanCheck(core, nil))
}
