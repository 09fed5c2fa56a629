// Package transport is the protocol transport registry: a small table
// mapping transport names (h1, h2, pg, ...) to the numeric ids assigned in
// registration order, consulted by lookup_by_name/lookup_by_number (spec.md
// §6 "Consumed from protocol transport").
package transport

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Transport is one registered protocol transport's metadata.
type Transport struct {
	Number int
	Name   string
}

// Registry assigns sequential numeric ids to transports in registration
// order and answers lookups in both directions. The name->Transport path
// is additionally cached through an LRU (hashicorp/golang-lru/v2), even
// though the backing map is already O(1), so that a cached name is answered
// without taking the registry's mutex.
type Registry struct {
	mu        sync.RWMutex
	byNumber  []Transport
	byName    map[string]int // name -> index into byNumber
	nameCache *lru.Cache[string, Transport]
}

// NewRegistry constructs an empty Registry. cacheSize bounds the name
// lookup cache; 0 selects a small default.
func NewRegistry(cacheSize int) *Registry {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	c, _ := lru.New[string, Transport](cacheSize)
	return &Registry{byName: make(map[string]int), nameCache: c}
}

// Register assigns the next numeric id to name. Registering the same name
// twice is an error (spec.md's registry is append-only by registration
// order, not a dynamic re-map).
func (r *Registry) Register(name string) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return Transport{}, fmt.Errorf("transport: %q already registered", name)
	}
	t := Transport{Number: len(r.byNumber), Name: name}
	r.byNumber = append(r.byNumber, t)
	r.byName[name] = t.Number
	r.nameCache.Add(name, t)
	return t, nil
}

// LookupByName is transport_lookup_by_name.
func (r *Registry) LookupByName(name string) (Transport, bool) {
	if t, ok := r.nameCache.Get(name); ok {
		return t, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return Transport{}, false
	}
	t := r.byNumber[idx]
	r.nameCache.Add(name, t)
	return t, true
}

// LookupByNumber is transport_lookup_by_number.
func (r *Registry) LookupByNumber(n int) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n >= len(r.byNumber) {
		return Transport{}, false
	}
	return r.byNumber[n], true
}

// Len reports how many transports are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byNumber)
}
