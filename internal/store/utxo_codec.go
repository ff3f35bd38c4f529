package store

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/paulsattlegger/kermapy/internal/canon"
)

// encodeUtxo serializes a UTXO snapshot (outpoint key -> output value) as
// canonical JSON so it hashes and compares deterministically the same way
// every other stored object does (section 4.2's "utxo set associated with
// a block, keyed by the block's id").
func encodeUtxo(utxo map[string]int64) ([]byte, error) {
	obj := make(map[string]interface{}, len(utxo))
	for k, v := range utxo {
		obj[k] = json.Number(strconv.FormatInt(v, 10))
	}
	return canon.Canonicalize(obj)
}

func decodeUtxo(data []byte) (map[string]int64, error) {
	v, err := canon.Decode(data)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]interface{})
	out := make(map[string]int64, len(m))
	for k, raw := range m {
		n, ok := raw.(json.Number)
		if !ok {
			continue
		}
		i, err := n.Int64()
		if err != nil {
			return nil, err
		}
		out[k] = i
	}
	return out, nil
}

// sortedKeys returns m's keys in ascending order. No code in this package,
// tests included, calls it.
func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
