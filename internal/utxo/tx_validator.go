package utxo

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/paulsattlegger/kermapy/internal/canon"
	"github.com/paulsattlegger/kermapy/internal/kerrors"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/objects"
	"github.com/paulsattlegger/kermapy/internal/schema"
)

var log = klog.NewModuleLogger(klog.ComponentTx)

// Validate runs TxValidator (section 4.4) against a schema-valid "object"
// payload, returning the transaction's total input and output value. A
// coinbase returns (0, 0, nil): conservation is enforced at block level.
func Validate(tx map[string]interface{}, st objectStore) (totalIn, totalOut int64, err error) {
	if serr := schema.Validate(tx, schema.AllTransactionsShape); serr != nil {
		return 0, 0, serr
	}

	t, err := objects.TransactionFromMap(tx)
	if err != nil {
		return 0, 0, err
	}
	if t.IsCoinbase() {
		return 0, 0, nil
	}

	seen := make(map[string]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		outpointKey := fmt.Sprintf("%s:%d", in.Outpoint.Txid, in.Outpoint.Index)
		if _, dup := seen[outpointKey]; dup {
			return 0, 0, &kerrors.InvalidTx{Message: "multiple inputs with the same outpoint"}
		}
		seen[outpointKey] = struct{}{}

		prevMap, getErr := st.GetObject(in.Outpoint.Txid)
		if getErr != nil {
			return 0, 0, &kerrors.InvalidTx{
				Message: fmt.Sprintf("could not find transaction '%s' in object database", in.Outpoint.Txid),
			}
		}
		prev, decErr := objects.TransactionFromMap(prevMap)
		if decErr != nil {
			return 0, 0, decErr
		}
		if in.Outpoint.Index < 0 || in.Outpoint.Index >= len(prev.Outputs) {
			return 0, 0, &kerrors.InvalidTx{
				Message: fmt.Sprintf("given index '%d' for transaction '%s' is invalid", in.Outpoint.Index, in.Outpoint.Txid),
			}
		}
		output := prev.Outputs[in.Outpoint.Index]

		if !verifySignature(tx, in.Sig, output.Pubkey) {
			return 0, 0, &kerrors.InvalidTx{
				Message: fmt.Sprintf("invalid signature for transaction '%s'", in.Outpoint.Txid),
			}
		}

		totalIn += output.Value
	}

	for _, o := range t.Outputs {
		totalOut += o.Value
	}
	if totalIn < totalOut {
		return 0, 0, &kerrors.InvalidTx{
			Message: "sum of input values is smaller than the sum of the specified output values",
		}
	}
	return totalIn, totalOut, nil
}

// verifySignature checks sigHex against pubkeyHex over the canonical
// encoding of tx with every input's sig replaced by null, mirroring
// transaction_validation.py's _validate_input_signature.
func verifySignature(tx map[string]interface{}, sigHex, pubkeyHex string) bool {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}

	cloned := cloneWithNulledSigs(tx)
	canonical, err := canon.Canonicalize(cloned)
	if err != nil {
		log.Warn("failed to canonicalize transaction for signature check", "err", err)
		return false
	}

	return ed25519.Verify(pubBytes, canonical, sigBytes)
}

func cloneWithNulledSigs(tx map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(tx))
	for k, v := range tx {
		cloned[k] = v
	}

	rawInputs, _ := tx["inputs"].([]interface{})
	nulled := make([]interface{}, len(rawInputs))
	for i, raw := range rawInputs {
		in, _ := raw.(map[string]interface{})
		clonedIn := make(map[string]interface{}, len(in))
		for k, v := range in {
			clonedIn[k] = v
		}
		clonedIn["sig"] = nil
		nulled[i] = clonedIn
	}
	cloned["inputs"] = nulled
	return cloned
}
