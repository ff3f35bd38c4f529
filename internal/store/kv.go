package store

import "errors"

// ErrNotFound is returned by kvStore.Get when the key is absent, the
// reduction of klaytn's per-engine not-found errors (leveldb.ErrNotFound,
// badger.ErrKeyNotFound) to one sentinel the rest of this package handles.
var ErrNotFound = errors.New("store: key not found")

// kvStore is the ordered, persistent key/value engine ObjectStore is built
// on (section 4.2): a single physical store with atomic single-key Put,
// namespaced here by key prefix the way klaytn's DBManager namespaces
// logical sub-databases (storage/database/db_manager.go).
type kvStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Close() error
}
