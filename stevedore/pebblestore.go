package stevedore

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/cockroachdb/pebble"
)

// PebbleStore persists bodies and attributes in a cockroachdb/pebble LSM
// tree, for deployments that want cache content to survive a restart
// (§4.2's persistence interface is specified for bans; SPEC_FULL extends
// the same "pick a backend the teacher already depends on" reasoning to
// object content, since the teacher depends on both pebble and goleveldb
// for exactly this kind of embedded-KV choice).
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func bodyKey(k Key) []byte { return append([]byte("b:"), encodeKey(k)...) }
func attrKey(k Key) []byte { return append([]byte("a:"), encodeKey(k)...) }

type attrRecord struct {
	Attrs map[string]string `json:"attrs"`
}

func (s *PebbleStore) Put(key Key, body []byte, attrs map[string]string) error {
	if err := s.db.Set(bodyKey(key), body, pebble.Sync); err != nil {
		return err
	}
	blob, err := jsoniter.Marshal(attrRecord{Attrs: attrs})
	if err != nil {
		return err
	}
	return s.db.Set(attrKey(key), blob, pebble.Sync)
}

func (s *PebbleStore) Body(key Key) ([]byte, error) {
	v, closer, err := s.db.Get(bodyKey(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *PebbleStore) readAttrs(key Key) (map[string]string, error) {
	v, closer, err := s.db.Get(attrKey(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var rec attrRecord
	if err := jsoniter.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return rec.Attrs, nil
}

func (s *PebbleStore) Attr(key Key, name string) (string, bool) {
	attrs, err := s.readAttrs(key)
	if err != nil {
		return "", false
	}
	v, ok := attrs[name]
	return v, ok
}

func (s *PebbleStore) HasAttr(key Key, name string) bool {
	_, ok := s.Attr(key, name)
	return ok
}

func (s *PebbleStore) FreeContent(key Key) error {
	err := s.db.Delete(bodyKey(key), pebble.Sync)
	if err == pebble.ErrNotFound {
		return nil
	}
	return err
}

func (s *PebbleStore) Destroy(key Key) error {
	if err := s.FreeContent(key); err != nil {
		return err
	}
	err := s.db.Delete(attrKey(key), pebble.Sync)
	if err == pebble.ErrNotFound {
		return nil
	}
	return err
}

func (s *PebbleStore) Close() error { return s.db.Close() }
