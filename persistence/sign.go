package persistence

import (
	"fmt"

	"github.com/jedisct1/go-minisign"
)

// Verify checks sig (a minisign signature string, as produced by the
// minisign CLI against an exported ban blob) using pk (spec.md §4.2 export
// "can sign the exported ban byte-vector" — an optional export-integrity
// feature, not part of the original Varnish ban wire format, added without
// displacing it). go-minisign's public surface only verifies signatures;
// producing one is left to the minisign CLI or an operator's existing key
// management, the same split the upstream tool itself makes between
// `minisign -S` and this library's read side.
func Verify(blob []byte, sig string, pk minisign.PublicKey) (bool, error) {
	s, err := minisign.DecodeSignature(sig)
	if err != nil {
		return false, fmt.Errorf("persistence: decode signature: %w", err)
	}
	return pk.Verify(blob, s), nil
}

// LoadPublicKey parses a minisign public key from its base64 textual form
// (the contents of a `.pub` file minisign produces).
func LoadPublicKey(s string) (minisign.PublicKey, error) {
	return minisign.NewPublicKey(s)
}
