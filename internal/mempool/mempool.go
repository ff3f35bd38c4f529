// Package mempool implements Mempool (section 4.8): a UTXO-consistent set
// of pending transaction ids, rebuilt whenever the chaintip changes,
// including across reorganizations.
//
// Grounded on the Python reference's mempool.py for the Pending/InChain
// state vocabulary (its MempoolState enum), reimplemented to the full
// behavior spec.md describes — the Python draft's init/handle_chaintip_change
// are unfinished (TODO'd chain-switch handling, no UTXO application at
// all); this package is the completed version of that sketch.
package mempool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/objects"
	"github.com/paulsattlegger/kermapy/internal/utxo"
)

var log = klog.NewModuleLogger(klog.ComponentMempool)

type txState int

const (
	statePending txState = iota
	stateInChain
)

// objectStore is the read surface Mempool needs from internal/store.ObjectStore.
type objectStore interface {
	GetChaintip() (string, bool)
	GetHeight(id string) (int64, error)
	GetObject(id string) (map[string]interface{}, error)
	GetUtxo(id string) (map[string]int64, error)
	Contains(id string) bool
}

// Mempool is the pending/in-chain txid table plus the private working UTXO
// snapshot pending transactions are validated against.
type Mempool struct {
	mu       sync.Mutex
	store    objectStore
	state    map[string]txState
	utxoTmp  map[string]int64
	chaintip string
	height   int64
}

// New constructs a Mempool. Callers must call Init before using it.
func New(store objectStore) *Mempool {
	return &Mempool{store: store, state: make(map[string]txState)}
}

// Init implements section 4.8's init(): if no chaintip exists yet, the
// mempool starts empty at height -1. Otherwise it adopts the chaintip's
// UTXO snapshot and marks every txid on the chain (walking previd back to
// genesis) InChain.
func (m *Mempool) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initFromTipLocked()
}

func (m *Mempool) initFromTipLocked() error {
	m.state = make(map[string]txState)

	tip, ok := m.store.GetChaintip()
	if !ok {
		m.chaintip = ""
		m.height = -1
		m.utxoTmp = make(map[string]int64)
		return nil
	}

	height, err := m.store.GetHeight(tip)
	if err != nil {
		return err
	}
	snapshot, err := m.store.GetUtxo(tip)
	if err != nil {
		return err
	}

	chain, err := m.chainFromTip(tip)
	if err != nil {
		return err
	}
	for _, blockID := range chain {
		if err := m.markBlockTxsInChain(blockID); err != nil {
			return err
		}
	}

	m.chaintip = tip
	m.height = height
	m.utxoTmp = cloneUtxo(snapshot)
	return nil
}

func (m *Mempool) markBlockTxsInChain(blockID string) error {
	blockMap, err := m.store.GetObject(blockID)
	if err != nil {
		return err
	}
	block, err := objects.BlockFromMap(blockMap)
	if err != nil {
		return err
	}
	for _, txid := range block.Txids {
		m.state[txid] = stateInChain
	}
	return nil
}

// AddTx implements section 4.8's add_tx: a no-op if txid is already known;
// otherwise it attempts to apply the transaction to the working snapshot
// and marks it Pending on success. On UtxoError the mempool is left
// untouched and the error is returned to the caller for logging.
func (m *Mempool) AddTx(txid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.state[txid]; known {
		return nil
	}

	txMap, err := m.store.GetObject(txid)
	if err != nil {
		return err
	}
	tx, err := objects.TransactionFromMap(txMap)
	if err != nil {
		return err
	}
	if tx.IsCoinbase() {
		return fmt.Errorf("mempool: coinbase transactions are not eligible for the mempool")
	}

	work := cloneUtxo(m.utxoTmp)
	if err := utxo.Apply(m.store, work, txid, tx); err != nil {
		return err
	}
	m.utxoTmp = work
	m.state[txid] = statePending
	return nil
}

// HandleChaintipChange implements section 4.8's handle_chaintip_change: the
// fast path for a chain extension, or the full reorg path otherwise.
func (m *Mempool) HandleChaintipChange() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newTip, ok := m.store.GetChaintip()
	if !ok || newTip == m.chaintip {
		return nil
	}

	newHeight, err := m.store.GetHeight(newTip)
	if err != nil {
		return err
	}
	newTipMap, err := m.store.GetObject(newTip)
	if err != nil {
		return err
	}
	newTipBlock, err := objects.BlockFromMap(newTipMap)
	if err != nil {
		return err
	}

	isAppend := newTipBlock.Previd != nil && *newTipBlock.Previd == m.chaintip && newHeight == m.height+1
	if isAppend {
		return m.handleAppendLocked(newTip, newHeight, newTipBlock)
	}
	return m.handleReorgLocked(newTip)
}

func (m *Mempool) handleAppendLocked(newTip string, newHeight int64, block *objects.Block) error {
	for _, txid := range block.Txids {
		m.state[txid] = stateInChain
	}

	snapshot, err := m.store.GetUtxo(newTip)
	if err != nil {
		return err
	}
	m.utxoTmp = cloneUtxo(snapshot)
	m.chaintip = newTip
	m.height = newHeight

	return m.reapplyPendingLocked(m.pendingTxidsLocked())
}

func (m *Mempool) handleReorgLocked(newTip string) error {
	oldTip := m.chaintip

	var carryOver []string
	for txid, st := range m.state {
		if st == statePending {
			carryOver = append(carryOver, txid)
		}
	}

	if oldTip != "" {
		oldBranch, newBranch, err := m.divergingBranches(oldTip, newTip)
		if err != nil {
			return err
		}
		newBranchTxs := make(map[string]bool)
		for _, blockID := range newBranch {
			blockMap, err := m.store.GetObject(blockID)
			if err != nil {
				return err
			}
			block, err := objects.BlockFromMap(blockMap)
			if err != nil {
				return err
			}
			for _, txid := range block.Txids {
				newBranchTxs[txid] = true
			}
		}

		for _, blockID := range oldBranch {
			blockMap, err := m.store.GetObject(blockID)
			if err != nil {
				return err
			}
			block, err := objects.BlockFromMap(blockMap)
			if err != nil {
				return err
			}
			for _, txid := range block.Txids {
				if newBranchTxs[txid] {
					continue
				}
				txMap, err := m.store.GetObject(txid)
				if err != nil {
					return err
				}
				tx, err := objects.TransactionFromMap(txMap)
				if err != nil {
					return err
				}
				if tx.IsCoinbase() {
					continue
				}
				carryOver = append(carryOver, txid)
			}
		}
	}

	if err := m.initFromTipLocked(); err != nil {
		return err
	}
	return m.reapplyPendingLocked(dedupe(carryOver))
}

// reapplyPendingLocked re-applies each candidate txid against the current
// utxoTmp, dropping any that no longer apply (section 4.8: "any that fails
// UTXO application is removed").
func (m *Mempool) reapplyPendingLocked(txids []string) error {
	for _, txid := range txids {
		if st, ok := m.state[txid]; ok && st == stateInChain {
			continue
		}
		txMap, err := m.store.GetObject(txid)
		if err != nil {
			delete(m.state, txid)
			continue
		}
		tx, err := objects.TransactionFromMap(txMap)
		if err != nil {
			delete(m.state, txid)
			continue
		}
		work := cloneUtxo(m.utxoTmp)
		if err := utxo.Apply(m.store, work, txid, tx); err != nil {
			log.Debug("dropping mempool tx that no longer applies", "txid", txid, "err", err)
			delete(m.state, txid)
			continue
		}
		m.utxoTmp = work
		m.state[txid] = statePending
	}
	return nil
}

func (m *Mempool) pendingTxidsLocked() []string {
	out := make([]string, 0, len(m.state))
	for txid, st := range m.state {
		if st == statePending {
			out = append(out, txid)
		}
	}
	return out
}

// GetPending implements section 4.8's get_pending().
func (m *Mempool) GetPending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pendingTxidsLocked()
	sort.Strings(out)
	return out
}

// chainFromTip walks previd pointers from tip back to genesis, returning
// block ids ordered from tip to genesis inclusive.
func (m *Mempool) chainFromTip(tip string) ([]string, error) {
	var chain []string
	cur := tip
	for {
		chain = append(chain, cur)
		blockMap, err := m.store.GetObject(cur)
		if err != nil {
			return nil, err
		}
		block, err := objects.BlockFromMap(blockMap)
		if err != nil {
			return nil, err
		}
		if block.Previd == nil {
			return chain, nil
		}
		cur = *block.Previd
	}
}

// divergingBranches returns, for two tips, the blocks strictly above their
// lowest common ancestor on each side (tip-first order).
func (m *Mempool) divergingBranches(oldTip, newTip string) (oldBranch, newBranch []string, err error) {
	oldChain, err := m.chainFromTip(oldTip)
	if err != nil {
		return nil, nil, err
	}
	newChain, err := m.chainFromTip(newTip)
	if err != nil {
		return nil, nil, err
	}

	oldIndex := make(map[string]int, len(oldChain))
	for i, id := range oldChain {
		oldIndex[id] = i
	}
	for i, id := range newChain {
		if idx, ok := oldIndex[id]; ok {
			return oldChain[:idx], newChain[:i], nil
		}
	}
	return oldChain, newChain, nil
}

func cloneUtxo(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
