// Package stevedore defines the storage-backend interface object cores use
// to hold their byte content and attributes, and three reference
// implementations: an in-memory fastcache-backed store, and two
// disk-backed stores over pebble and goleveldb (spec.md §6 "Consumed from
// stevedore").
package stevedore

import "errors"

// ErrOutOfSpace is returned by Put when the store is full. cachecore's
// CompleteFetch responds by failing the fetch and reclaiming one LRU victim
// via objindex.NukeOldest; it does not retry the Put (SPEC_FULL §5
// "storage_lru.c's nuke-on-pressure path").
var ErrOutOfSpace = errors.New("stevedore: out of space")

// ErrNotFound is returned by Body when the key is absent.
var ErrNotFound = errors.New("stevedore: not found")

// Key identifies one object core's stored content: the fingerprint plus a
// generation counter distinguishing Vary siblings and successive fetches
// of the same fingerprint (spec.md §3 "object core" is logically distinct
// from its storage-layer body).
type Key struct {
	Fingerprint [32]byte
	Generation  uint64
}

// Store is the storage-backend contract (spec.md §6's
// new_object_core/free_object_content/destroy_core/get_attr/has_attr,
// realized as a Go interface instead of five free functions).
type Store interface {
	// Put writes body and attrs under key, overwriting any prior content.
	// Returns ErrOutOfSpace if the store is full.
	Put(key Key, body []byte, attrs map[string]string) error

	// Body returns key's stored byte content.
	Body(key Key) ([]byte, error)

	// Attr returns one named attribute (e.g. a response header or the Vary
	// blob), and whether it was present.
	Attr(key Key, name string) (string, bool)

	// HasAttr reports presence without copying the value.
	HasAttr(key Key, name string) bool

	// FreeContent releases key's byte body but keeps attrs (spec.md's
	// free_object_content: used when a core degrades to HITMISS/HITPASS
	// and no longer needs its body).
	FreeContent(key Key) error

	// Destroy removes key and all its content and attributes entirely
	// (spec.md's destroy_core).
	Destroy(key Key) error

	// Close releases any resources the store holds open.
	Close() error
}
