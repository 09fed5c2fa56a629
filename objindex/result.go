// Package objindex implements the concurrent fingerprint-to-object-head
// index: lookup with coalescing, insertion, and the reference-management
// operations unbusy/kill/snipe/purge (spec.md §4.1).
package objindex

// Result is the outcome of a Lookup.
type Result int

const (
	// MISS means no usable primary core was found; the caller becomes the
	// sole fetcher and a new BUSY core has been inserted.
	MISS Result = iota
	// MissExp is MISS where a primary existed but was outside both TTL and
	// grace (the distinction spec.md §2 draws for telemetry purposes).
	MissExp
	// HIT means a fresh, unbanned primary was returned with its refcount
	// bumped.
	HIT
	// HITMISS means a negative-cache marker was hit; a new BUSY core has
	// been inserted, same as MISS.
	HITMISS
	// HITPASS means a negative-cache marker was hit and no fetch should be
	// coalesced; the caller fetches independently without publishing.
	HITPASS
	// GRACE means the primary is expired but within its grace window; it is
	// returned, and a background refetch has been kicked off unless one was
	// already in flight.
	GRACE
	// BUSY means a compatible fetch is already in flight; the caller has
	// been appended to its waiting list and should park on Wait.
	BUSY
)

func (r Result) String() string {
	switch r {
	case MISS:
		return "MISS"
	case MissExp:
		return "MISS_EXP"
	case HIT:
		return "HIT"
	case HITMISS:
		return "HITMISS"
	case HITPASS:
		return "HITPASS"
	case GRACE:
		return "GRACE"
	case BUSY:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}
