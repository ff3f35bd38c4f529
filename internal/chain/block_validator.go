// Package chain implements BlockValidator and ChainManager (sections 4.6
// and 4.7): the block-level invariants, asynchronous parent/txid
// resolution, UTXO recomputation, and chaintip selection.
package chain

import (
	"context"
	"time"

	"github.com/paulsattlegger/kermapy/internal/kerrors"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/objects"
	"github.com/paulsattlegger/kermapy/internal/schema"
	"github.com/paulsattlegger/kermapy/internal/utxo"
)

var log = klog.NewModuleLogger(klog.ComponentBlock)

// DefaultResolveTimeout bounds every broadcast+wait object resolution
// (section 5: "configurable timeout (default 5 s)").
const DefaultResolveTimeout = 5 * time.Second

// Broadcaster sends msg to every other live connection. The Node supplies
// the concrete implementation; BlockValidator only needs this one method.
type Broadcaster interface {
	Broadcast(msg map[string]interface{})
}

// objectStore is the read surface BlockValidator needs from
// internal/store.ObjectStore.
type objectStore interface {
	GetObject(id string) (map[string]interface{}, error)
	GetUtxo(id string) (map[string]int64, error)
	GetHeight(id string) (int64, error)
	Contains(id string) bool
	EventFor(id string) (<-chan struct{}, func())
}

// Validator runs BlockValidator (section 4.6) over an "object" message's
// block payload.
type Validator struct {
	store          objectStore
	broadcaster    Broadcaster
	resolveTimeout time.Duration
}

// NewValidator constructs a Validator. A zero or negative resolveTimeout
// falls back to DefaultResolveTimeout.
func NewValidator(store objectStore, broadcaster Broadcaster, resolveTimeout time.Duration) *Validator {
	if resolveTimeout <= 0 {
		resolveTimeout = DefaultResolveTimeout
	}
	return &Validator{store: store, broadcaster: broadcaster, resolveTimeout: resolveTimeout}
}

// Validate runs the eleven ordered steps of section 4.6 and returns the
// new UTXO snapshot for block on success.
func (v *Validator) Validate(ctx context.Context, blockMap map[string]interface{}) (map[string]int64, error) {
	if serr := schema.Validate(blockMap, schema.BlockShape); serr != nil {
		return nil, serr
	}

	block, err := objects.BlockFromMap(blockMap)
	if err != nil {
		return nil, err
	}

	if block.T != objects.Target {
		return nil, &kerrors.ProtocolError{Message: "invalid target"}
	}

	id, err := canonID(blockMap)
	if err != nil {
		return nil, err
	}
	if !idBelowTarget(id, block.T) {
		return nil, &kerrors.ProtocolError{Message: "does not satisfy the proof-of-work equation"}
	}

	if err := v.resolveTxids(ctx, block.Txids); err != nil {
		return nil, err
	}

	var parentHeight int64 = -1
	if block.Previd != nil {
		if err := v.resolveParent(ctx, *block.Previd); err != nil {
			return nil, err
		}
		parentMap, getErr := v.store.GetObject(*block.Previd)
		if getErr != nil {
			return nil, &kerrors.ProtocolError{Message: "which parent(-s) could not be received"}
		}
		parent, decErr := objects.BlockFromMap(parentMap)
		if decErr != nil {
			return nil, decErr
		}
		if block.Created <= parent.Created {
			return nil, &kerrors.ProtocolError{Message: "timestamp not later than of its parent"}
		}
		parentHeight, err = v.store.GetHeight(*block.Previd)
		if err != nil {
			return nil, &kerrors.ProtocolError{Message: "which parent(-s) could not be received"}
		}
	} else if id != objects.GenesisID() {
		return nil, &kerrors.ProtocolError{Message: "stops at a different genesis"}
	}

	if block.Created > time.Now().Unix() {
		return nil, &kerrors.ProtocolError{Message: "timestamp in the future"}
	}

	if err := v.validateTransactionsAndCoinbase(block, parentHeight); err != nil {
		return nil, err
	}

	newUtxo, err := utxo.NextUtxo(block, v.store)
	if err != nil {
		if ue, ok := err.(*kerrors.UtxoError); ok {
			return nil, &kerrors.ProtocolError{Message: ue.Message}
		}
		return nil, err
	}

	return newUtxo, nil
}

// validateTransactionsAndCoinbase implements section 4.6 steps 8 and 10:
// runs TxValidator over every non-coinbase tx (accumulating fees) and
// enforces the coinbase placement/height/reward rules.
func (v *Validator) validateTransactionsAndCoinbase(block *objects.Block, parentHeight int64) error {
	var fees int64
	var coinbaseSeen bool
	var coinbaseTxID string
	var coinbaseTx *objects.Transaction

	for i, txid := range block.Txids {
		txMap, err := v.store.GetObject(txid)
		if err != nil {
			return &kerrors.ProtocolError{Message: "contains transactions that could not be received"}
		}
		tx, err := objects.TransactionFromMap(txMap)
		if err != nil {
			return err
		}

		if tx.IsCoinbase() {
			if coinbaseSeen {
				return &kerrors.ProtocolError{Message: "contains more than one coinbase transaction"}
			}
			if i != 0 {
				return &kerrors.ProtocolError{Message: "coinbase transaction is not at index 0"}
			}
			coinbaseSeen = true
			coinbaseTxID = txid
			coinbaseTx = tx
			continue
		}

		for _, in := range tx.Inputs {
			if in.Outpoint.Txid == coinbaseTxID {
				return &kerrors.ProtocolError{Message: "coinbase transaction spent in the same block"}
			}
		}

		totalIn, totalOut, err := utxo.Validate(txMap, v.store)
		if err != nil {
			return err
		}
		fees += totalIn - totalOut
	}

	if coinbaseTx != nil {
		if coinbaseTx.Height == nil || *coinbaseTx.Height != parentHeight+1 {
			return &kerrors.ProtocolError{Message: "coinbase height does not match block height"}
		}
		var coinbaseValue int64
		for _, o := range coinbaseTx.Outputs {
			coinbaseValue += o.Value
		}
		if coinbaseValue > objects.BlockReward+fees {
			return &kerrors.ProtocolError{
				Message: "coinbase transaction value would exceed block rewards and the fees",
			}
		}
	}

	return nil
}
