// Package store implements ObjectStore (section 4.2): the namespaced,
// persistent record of every accepted object, its chain height, its UTXO
// snapshot, and the current chaintip pointer, plus the waiter registry
// ingestion uses to block on objects it does not have yet.
//
// Grounded on klaytn's storage/database package: db_manager.go's
// namespace-by-prefix convention and its pluggable levelDB/badgerDB
// backends, reduced to the single Get/Has/Put/Close surface this store
// needs.
package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/paulsattlegger/kermapy/internal/canon"
	"github.com/paulsattlegger/kermapy/internal/config"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/objects"
)

var log = klog.NewModuleLogger(klog.ComponentStore)

const (
	prefixObject   = "object:"
	prefixHeight   = "height:"
	prefixUtxo     = "utxo:"
	keyChaintip    = "chaintip"
	heightKeyBytes = 32
)

// ObjectStore is the single persistence boundary for the chain manager and
// the ingestion pipeline. All mutating operations take mu, mirroring the
// atomicity the Python reference gets for free from asyncio's cooperative
// scheduling (see DESIGN.md, internal/store, "Mutex discipline").
type ObjectStore struct {
	mu      sync.Mutex
	kv      kvStore
	waiters *waiterRegistry
}

// Open opens the on-disk store at path using the configured engine.
func Open(path string, engine config.Engine) (*ObjectStore, error) {
	var (
		kv  kvStore
		err error
	)
	switch engine {
	case config.EngineBadger:
		kv, err = openBadgerDB(path)
	case config.EngineLevelDB, "":
		kv, err = openLevelDB(path)
	default:
		return nil, fmt.Errorf("store: unknown storage engine %q", engine)
	}
	if err != nil {
		return nil, err
	}
	return &ObjectStore{kv: kv, waiters: newWaiterRegistry()}, nil
}

// Close releases the underlying engine's resources.
func (s *ObjectStore) Close() error {
	return s.kv.Close()
}

// Contains reports whether id has already been accepted, per section 4.3's
// de-duplication check.
func (s *ObjectStore) Contains(id string) bool {
	ok, err := s.kv.Has([]byte(prefixObject + id))
	if err != nil {
		log.Error("Has failed", "id", id, "err", err)
		return false
	}
	return ok
}

// GetObject returns the canonical-JSON-decoded object stored under id.
func (s *ObjectStore) GetObject(id string) (map[string]interface{}, error) {
	raw, err := s.kv.Get([]byte(prefixObject + id))
	if err != nil {
		return nil, err
	}
	v, err := canon.Decode(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("store: object %s is not a JSON object", id)
	}
	return obj, nil
}

// GetHeight returns the chain height recorded for block id.
func (s *ObjectStore) GetHeight(id string) (int64, error) {
	raw, err := s.kv.Get([]byte(prefixHeight + id))
	if err != nil {
		return 0, err
	}
	if len(raw) != heightKeyBytes {
		return 0, fmt.Errorf("store: corrupt height record for %s", id)
	}
	return int64(binary.BigEndian.Uint64(raw[heightKeyBytes-8:])), nil
}

// GetUtxo returns the UTXO snapshot recorded as of block id.
func (s *ObjectStore) GetUtxo(id string) (map[string]int64, error) {
	raw, err := s.kv.Get([]byte(prefixUtxo + id))
	if err != nil {
		return nil, err
	}
	return decodeUtxo(raw)
}

// GetChaintip returns the current chaintip block id, if one has been set.
func (s *ObjectStore) GetChaintip() (string, bool) {
	raw, err := s.kv.Get([]byte(keyChaintip))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// PutObject canonicalizes and stores obj under its computed id, returning
// the id. It does not touch height/utxo/chaintip bookkeeping: callers that
// accept a block call PutBlock instead once validation has produced a
// height and UTXO snapshot for it.
func (s *ObjectStore) PutObject(obj map[string]interface{}) (string, error) {
	canonical, err := canon.Canonicalize(obj)
	if err != nil {
		return "", err
	}
	id := canon.IDOfCanonicalBytes(canonical)

	s.mu.Lock()
	err = s.kv.Put([]byte(prefixObject+id), canonical)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.waiters.fire(id)
	return id, nil
}

// PutBlock stores a validated block's object record together with its
// height and UTXO snapshot, and optionally advances the chaintip pointer.
// Height and UTXO are written before the object record, and the chaintip
// pointer last, so a concurrent reader never observes a block recorded
// without its height or UTXO set.
func (s *ObjectStore) PutBlock(obj map[string]interface{}, utxo map[string]int64, height int64, newChaintip bool) (string, error) {
	canonical, err := canon.Canonicalize(obj)
	if err != nil {
		return "", err
	}
	id := canon.IDOfCanonicalBytes(canonical)

	utxoBytes, err := encodeUtxo(utxo)
	if err != nil {
		return "", err
	}

	heightBytes := make([]byte, heightKeyBytes)
	binary.BigEndian.PutUint64(heightBytes[heightKeyBytes-8:], uint64(height))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Put([]byte(prefixHeight+id), heightBytes); err != nil {
		return "", err
	}
	if err := s.kv.Put([]byte(prefixUtxo+id), utxoBytes); err != nil {
		return "", err
	}
	if err := s.kv.Put([]byte(prefixObject+id), canonical); err != nil {
		return "", err
	}
	if newChaintip {
		if err := s.kv.Put([]byte(keyChaintip), []byte(id)); err != nil {
			return "", err
		}
	}

	s.waiters.fire(id)
	return id, nil
}

// SetChaintip unconditionally repoints the chaintip pointer. Nothing in
// this module calls it: chaintip changes go through PutBlock's newChaintip
// flag.
func (s *ObjectStore) SetChaintip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Put([]byte(keyChaintip), []byte(id))
}

// EventFor returns a channel that closes once id is stored via PutObject or
// PutBlock, and a cancel func the caller must invoke if it stops waiting
// before that happens (section 4.2's event_for).
func (s *ObjectStore) EventFor(id string) (<-chan struct{}, func()) {
	ch, cancel := s.waiters.eventFor(id)
	if s.Contains(id) {
		cancel()
		done := make(chan struct{})
		close(done)
		return done, func() {}
	}
	return ch, cancel
}

// EnsureGenesis stores the fixed genesis block as height 0 and current
// chaintip the first time the store is opened against an empty database.
func (s *ObjectStore) EnsureGenesis() error {
	if s.Contains(objects.GenesisID()) {
		return nil
	}
	_, err := s.PutBlock(objects.Genesis(), map[string]int64{}, 0, true)
	return err
}
