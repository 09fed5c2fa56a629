package stevedore

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
)

// MemStore is the default in-process Store, backing object bodies with a
// fastcache.Cache (grounded on triedb/pathdb/buffer.go's *fastcache.Cache
// hot layer) and attributes with a plain mutex-guarded map, since
// attributes are small, variable-shaped, and read far less often than
// bodies are streamed.
type MemStore struct {
	bodies *fastcache.Cache

	mu    sync.RWMutex
	attrs map[Key]map[string]string

	maxBytes int
	used     int
}

// NewMemStore constructs a MemStore whose body cache is capacity-bounded
// to roughly maxBytes (fastcache.New's own sizing heuristic).
func NewMemStore(maxBytes int) *MemStore {
	return &MemStore{
		bodies:   fastcache.New(maxBytes),
		attrs:    make(map[Key]map[string]string),
		maxBytes: maxBytes,
	}
}

func encodeKey(k Key) []byte {
	buf := make([]byte, 40)
	copy(buf, k.Fingerprint[:])
	binary.BigEndian.PutUint64(buf[32:], k.Generation)
	return buf
}

func (s *MemStore) Put(key Key, body []byte, attrs map[string]string) error {
	if s.maxBytes > 0 && len(body) > s.maxBytes {
		return ErrOutOfSpace
	}
	s.bodies.Set(encodeKey(key), body)

	s.mu.Lock()
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	s.attrs[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Body(key Key) ([]byte, error) {
	buf, ok := s.bodies.HasGet(nil, encodeKey(key))
	if !ok {
		return nil, ErrNotFound
	}
	return buf, nil
}

func (s *MemStore) Attr(key Key, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attrs[key]
	if !ok {
		return "", false
	}
	v, ok := a[name]
	return v, ok
}

func (s *MemStore) HasAttr(key Key, name string) bool {
	_, ok := s.Attr(key, name)
	return ok
}

func (s *MemStore) FreeContent(key Key) error {
	s.bodies.Del(encodeKey(key))
	return nil
}

func (s *MemStore) Destroy(key Key) error {
	s.bodies.Del(encodeKey(key))
	s.mu.Lock()
	delete(s.attrs, key)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Close() error {
	s.bodies.Reset()
	return nil
}
