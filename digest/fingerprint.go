// Package digest computes the 32-byte request fingerprint that the object
// index keys on (spec.md §3 "Fingerprint"). The digest length is fixed at
// 32 bytes and is not configurable (spec.md §6).
package digest

import (
	"encoding/hex"

	sha256simd "github.com/minio/sha256-simd"
)

// Size is the fixed fingerprint length in bytes.
const Size = 32

// Fingerprint identifies one cacheable resource. Equal fingerprints address
// the same object head (spec.md §3).
type Fingerprint [Size]byte

// String renders the fingerprint as lowercase hex for logs and CLI output.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Attributes are the request attributes policy selects for hashing
// (spec.md §6 lookup_prepare's digest/vary_key output). The object index
// never interprets these beyond feeding them to Compute; their selection is
// entirely policy's responsibility.
type Attributes struct {
	Method string
	Host   string
	URL    string
	// Extra holds any additional policy-selected bytes (e.g. cookie
	// fragments, header values) in the exact order they must be hashed.
	Extra [][]byte
}

// Compute derives the 32-byte SHA-256 fingerprint of the given attributes.
// It uses the accelerated github.com/minio/sha256-simd implementation
// rather than crypto/sha256 because fingerprinting sits on every request's
// hot path; sha256-simd is already present in the teacher's dependency
// graph (indirect, via its crypto stack) and is bit-for-bit compatible with
// crypto/sha256.
func Compute(a Attributes) Fingerprint {
	h := sha256simd.New()
	writeFramed(h, []byte(a.Method))
	writeFramed(h, []byte(a.Host))
	writeFramed(h, []byte(a.URL))
	for _, e := range a.Extra {
		writeFramed(h, e)
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// writeFramed writes a length-prefixed chunk so that concatenation of
// variable-length fields can't be ambiguous (e.g. Method="GE" Host="Thost"
// vs Method="GET" Host="host" must not collide).
func writeFramed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [4]byte
	n := len(b)
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)
	h.Write(lenBuf[:])
	h.Write(b)
}
