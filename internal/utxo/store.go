// Package utxo implements TxValidator (section 4.4) and UtxoEngine
// (section 4.5): transaction-level validation against a store of prior
// transactions, and derivation of a block's UTXO snapshot from its parent
// and its own transactions.
//
// Grounded on the Python reference's transaction_validation.py (signature
// verification over a sig-nulled clone, input/output conservation) and
// utxo.py's _adjust_set_for_transaction (spend-then-add sequencing), with
// the composite UTXO key widened to "{txid}_{pubkey}_{index}" per the
// resolved Open Question (section 4.5, not the narrower "{pubkey}_{index}"
// the Python draft used).
package utxo

// objectStore is the narrow read surface this package needs from
// internal/store.ObjectStore, kept as an interface the way klaytn narrows
// its Backend/Peer dependencies for testability.
type objectStore interface {
	GetObject(id string) (map[string]interface{}, error)
	GetUtxo(id string) (map[string]int64, error)
	Contains(id string) bool
}
