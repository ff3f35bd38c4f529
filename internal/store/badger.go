package store

import (
	"time"

	"github.com/dgraph-io/badger"
)

const gcThreshold = int64(1 << 30)
const sizeGCTickerTime = 1 * time.Minute

// badgerStore is the badger-backed kvStore, adapted from klaytn's
// storage/database/badger_database.go down to the four operations
// ObjectStore actually needs, keeping the periodic value-log GC goroutine.
type badgerStore struct {
	db       *badger.DB
	gcTicker *time.Ticker
	quit     chan struct{}
}

func openBadgerDB(dir string) (*badgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &badgerStore{
		db:       db,
		gcTicker: time.NewTicker(sizeGCTickerTime),
		quit:     make(chan struct{}),
	}
	go s.runValueLogGC()
	return s, nil
}

func (s *badgerStore) runValueLogGC() {
	_, lastValueLogSize := s.db.Size()
	for {
		select {
		case <-s.gcTicker.C:
			_, currValueLogSize := s.db.Size()
			if currValueLogSize-lastValueLogSize < gcThreshold {
				continue
			}
			if err := s.db.RunValueLogGC(0.5); err != nil {
				continue
			}
			_, lastValueLogSize = s.db.Size()
		case <-s.quit:
			return
		}
	}
}

func (s *badgerStore) Get(key []byte) ([]byte, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *badgerStore) Has(key []byte) (bool, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *badgerStore) Put(key, value []byte) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, value); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (s *badgerStore) Close() error {
	close(s.quit)
	s.gcTicker.Stop()
	return s.db.Close()
}
