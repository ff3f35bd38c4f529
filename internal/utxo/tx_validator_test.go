package utxo

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/paulsattlegger/kermapy/internal/canon"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string]map[string]interface{}
	utxos   map[string]map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]map[string]interface{}),
		utxos:   make(map[string]map[string]int64),
	}
}

func (f *fakeStore) GetObject(id string) (map[string]interface{}, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, errNotFound
	}
	return obj, nil
}

func (f *fakeStore) GetUtxo(id string) (map[string]int64, error) {
	u, ok := f.utxos[id]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}

func (f *fakeStore) Contains(id string) bool {
	_, ok := f.objects[id]
	return ok
}

func (f *fakeStore) put(tx map[string]interface{}) string {
	b, err := canon.Canonicalize(tx)
	if err != nil {
		panic(err)
	}
	id := canon.IDOfCanonicalBytes(b)
	f.objects[id] = tx
	return id
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

func coinbase(height int64, pubkeyHex string, value int64) map[string]interface{} {
	return map[string]interface{}{
		"type":   "transaction",
		"height": json.Number(jn(height)),
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": pubkeyHex, "value": json.Number(jn(value))},
		},
	}
}

func jn(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

func TestValidateCoinbaseSkipsConservation(t *testing.T) {
	st := newFakeStore()
	pub, _, _ := ed25519.GenerateKey(nil)
	tx := coinbase(1, hex.EncodeToString(pub), 50000000000000)

	totalIn, totalOut, err := Validate(tx, st)
	require.NoError(t, err)
	require.Equal(t, int64(0), totalIn)
	require.Equal(t, int64(0), totalOut)
}

func TestValidateRejectsUnknownInputTx(t *testing.T) {
	st := newFakeStore()
	tx := map[string]interface{}{
		"type": "transaction",
		"inputs": []interface{}{
			map[string]interface{}{
				"outpoint": map[string]interface{}{"txid": hex64Literal, "index": json.Number("0")},
				"sig":      hex128Literal,
			},
		},
		"outputs": []interface{}{},
	}

	_, _, err := Validate(tx, st)
	require.Error(t, err)
}

func TestValidateAcceptsValidSignatureAndConservation(t *testing.T) {
	st := newFakeStore()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	prev := coinbase(1, hex.EncodeToString(pub), 100)
	prevID := st.put(prev)

	spendTx := map[string]interface{}{
		"type": "transaction",
		"inputs": []interface{}{
			map[string]interface{}{
				"outpoint": map[string]interface{}{"txid": prevID, "index": json.Number("0")},
				"sig":      nil,
			},
		},
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": hex.EncodeToString(pub), "value": json.Number("100")},
		},
	}
	signed := cloneWithNulledSigs(spendTx)
	msg, err := canon.Canonicalize(signed)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, msg)

	inputs := spendTx["inputs"].([]interface{})
	inputs[0].(map[string]interface{})["sig"] = hex.EncodeToString(sig)

	totalIn, totalOut, err := Validate(spendTx, st)
	require.NoError(t, err)
	require.Equal(t, int64(100), totalIn)
	require.Equal(t, int64(100), totalOut)
}

func TestValidateRejectsInvalidSignature(t *testing.T) {
	st := newFakeStore()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	prev := coinbase(1, hex.EncodeToString(pub), 100)
	prevID := st.put(prev)

	badSig := make([]byte, ed25519.SignatureSize)
	spendTx := map[string]interface{}{
		"type": "transaction",
		"inputs": []interface{}{
			map[string]interface{}{
				"outpoint": map[string]interface{}{"txid": prevID, "index": json.Number("0")},
				"sig":      hex.EncodeToString(badSig),
			},
		},
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": hex.EncodeToString(pub), "value": json.Number("100")},
		},
	}

	_, _, err = Validate(spendTx, st)
	require.Error(t, err)
}

const hex64Literal = "0000000000000000000000000000000000000000000000000000000000000000"
const hex128Literal = "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"
