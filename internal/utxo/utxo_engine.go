package utxo

import (
	"fmt"

	"github.com/paulsattlegger/kermapy/internal/kerrors"
	"github.com/paulsattlegger/kermapy/internal/objects"
)

// NextUtxo derives the UTXO snapshot for block from its parent's snapshot
// (empty if previd is null) and the transactions it names, per section 4.5.
func NextUtxo(block *objects.Block, st objectStore) (map[string]int64, error) {
	snapshot := map[string]int64{}

	if block.Previd != nil {
		parent, err := st.GetUtxo(*block.Previd)
		if err != nil {
			return nil, &kerrors.UtxoError{
				Message: fmt.Sprintf("could not find utxo for block '%s' in utxo database", *block.Previd),
			}
		}
		for k, v := range parent {
			snapshot[k] = v
		}
	}

	for _, txid := range block.Txids {
		txMap, err := st.GetObject(txid)
		if err != nil {
			return nil, &kerrors.UtxoError{
				Message: fmt.Sprintf("could not find transaction '%s' in object database", txid),
			}
		}
		tx, err := objects.TransactionFromMap(txMap)
		if err != nil {
			return nil, err
		}
		if err := Apply(st, snapshot, txid, tx); err != nil {
			return nil, err
		}
	}

	return snapshot, nil
}

// Apply spends tx's declared inputs and adds its declared outputs to
// snapshot in place, keyed by the composite "{txid}_{pubkey}_{index}" form
// section 4.2 specifies. Shared between UtxoEngine proper and Mempool,
// which applies the same rule to its own private working snapshot.
func Apply(st objectStore, snapshot map[string]int64, txid string, tx *objects.Transaction) error {
	for _, in := range tx.Inputs {
		prevMap, err := st.GetObject(in.Outpoint.Txid)
		if err != nil {
			return &kerrors.UtxoError{
				Message: fmt.Sprintf("could not find transaction '%s' in object database", in.Outpoint.Txid),
			}
		}
		prevTx, err := objects.TransactionFromMap(prevMap)
		if err != nil {
			return err
		}
		if in.Outpoint.Index < 0 || in.Outpoint.Index >= len(prevTx.Outputs) {
			return &kerrors.UtxoError{
				Message: fmt.Sprintf("given index '%d' for transaction '%s' is invalid", in.Outpoint.Index, in.Outpoint.Txid),
			}
		}
		pubkey := prevTx.Outputs[in.Outpoint.Index].Pubkey
		key := utxoKey(in.Outpoint.Txid, pubkey, in.Outpoint.Index)

		if _, ok := snapshot[key]; !ok {
			return &kerrors.UtxoError{
				Message: fmt.Sprintf("Could not find UTXO entry for key '%s'", key),
			}
		}
		delete(snapshot, key)
	}

	for j, o := range tx.Outputs {
		snapshot[utxoKey(txid, o.Pubkey, j)] = o.Value
	}

	return nil
}

func utxoKey(txid, pubkey string, index int) string {
	return fmt.Sprintf("%s_%s_%d", txid, pubkey, index)
}
