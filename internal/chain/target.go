package chain

import (
	"math/big"

	"github.com/paulsattlegger/kermapy/internal/canon"
)

// idBelowTarget reports whether idHex, read as an unsigned 256-bit
// big-endian integer, is numerically less than targetHex (section 4.6
// step 3's proof-of-work equation).
func idBelowTarget(idHex, targetHex string) bool {
	id, ok := new(big.Int).SetString(idHex, 16)
	if !ok {
		return false
	}
	target, ok := new(big.Int).SetString(targetHex, 16)
	if !ok {
		return false
	}
	return id.Cmp(target) < 0
}

func canonID(v map[string]interface{}) (string, error) {
	return canon.ID(v)
}
