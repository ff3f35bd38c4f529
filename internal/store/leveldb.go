package store

import (
	"os"

	"github.com/syndtr/goleveldb/leveldb"
)

// levelDBStore is the goleveldb-backed kvStore, adapted from klaytn's
// storage/database/leveldb_database.go down to the four operations
// ObjectStore actually needs.
type levelDBStore struct {
	db *leveldb.DB
}

func openLevelDB(dir string) (*levelDBStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &levelDBStore{db: db}, nil
}

func (s *levelDBStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *levelDBStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *levelDBStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}
