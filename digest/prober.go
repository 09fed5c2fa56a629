package digest

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Prober implements spec.md §4.1's "Fingerprint collision probing": in
// degraded-hash debug mode, a fixed table remaps the first few distinct
// digests it observes onto edge-case bit patterns (all zero, single
// low/high bit) to exercise collision paths in the object index. Outside
// debug mode, Remap is the identity function.
//
// Grounded on core/vote/vote_pool.go's receivedVotes mapset.Set[common.Hash]
// dedup set: Prober uses the same set-of-seen-keys idiom to decide whether a
// digest has already been assigned one of the edge-case patterns.
type Prober struct {
	enabled bool

	mu   sync.Mutex
	seen mapset.Set[Fingerprint]
	next int
}

// edgeCasePatterns are applied in order to the first len(edgeCasePatterns)
// distinct fingerprints observed while enabled.
var edgeCasePatterns = []Fingerprint{
	{}, // all zero
	func() Fingerprint { var f Fingerprint; f[Size-1] = 0x01; return f }(),       // single low bit
	func() Fingerprint { var f Fingerprint; f[0] = 0x80; return f }(),            // single high bit
}

// NewProber constructs a Prober. When enabled is false, Remap always returns
// its input unchanged.
func NewProber(enabled bool) *Prober {
	return &Prober{enabled: enabled, seen: mapset.NewSet[Fingerprint]()}
}

// Remap returns the fingerprint to actually index under. The first few
// distinct fingerprints passed through a Prober constructed with
// enabled=true are remapped onto fixed edge-case bit patterns; every digest
// after that, and every digest already remapped once, passes through
// unchanged (remapping is per distinct-input, not per-call).
func (p *Prober) Remap(fp Fingerprint) Fingerprint {
	if !p.enabled {
		return fp
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seen.Contains(fp) {
		return fp
	}
	p.seen.Add(fp)
	if p.next >= len(edgeCasePatterns) {
		return fp
	}
	remapped := edgeCasePatterns[p.next]
	p.next++
	return remapped
}
