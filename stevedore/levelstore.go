package stevedore

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelStore is the goleveldb-backed alternative to PebbleStore, selected
// by config for deployments already standardized on leveldb (SPEC_FULL §4
// "two alternative persistence backends... only one is active per
// deployment").
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if absent) a leveldb database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Put(key Key, body []byte, attrs map[string]string) error {
	if err := s.db.Put(bodyKey(key), body, nil); err != nil {
		return err
	}
	blob, err := jsoniter.Marshal(attrRecord{Attrs: attrs})
	if err != nil {
		return err
	}
	return s.db.Put(attrKey(key), blob, nil)
}

func (s *LevelStore) Body(key Key) ([]byte, error) {
	v, err := s.db.Get(bodyKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *LevelStore) readAttrs(key Key) (map[string]string, error) {
	v, err := s.db.Get(attrKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec attrRecord
	if err := jsoniter.Unmarshal(v, &rec); err != nil {
		return nil, err
	}
	return rec.Attrs, nil
}

func (s *LevelStore) Attr(key Key, name string) (string, bool) {
	attrs, err := s.readAttrs(key)
	if err != nil {
		return "", false
	}
	v, ok := attrs[name]
	return v, ok
}

func (s *LevelStore) HasAttr(key Key, name string) bool {
	_, ok := s.Attr(key, name)
	return ok
}

func (s *LevelStore) FreeContent(key Key) error {
	err := s.db.Delete(bodyKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	return err
}

func (s *LevelStore) Destroy(key Key) error {
	if err := s.FreeContent(key); err != nil {
		return err
	}
	err := s.db.Delete(attrKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	return err
}

func (s *LevelStore) Close() error { return s.db.Close() }
