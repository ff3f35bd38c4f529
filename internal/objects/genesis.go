package objects

import (
	"encoding/json"
	"fmt"

	"github.com/paulsattlegger/kermapy/internal/canon"
)

// Target is the fixed 256-bit threshold every accepted block id must be
// numerically below. The network does not retarget (section 1, Non-goals).
const Target = "00000002af000000000000000000000000000000000000000000000000000000"

// BaseUnit and BlockReward mirror the Python reference's BU/BLOCK_REWARD
// constants (config.py): 50 * 10^12 base units per block.
const (
	BaseUnit    int64 = 1_000_000_000_000
	BlockReward int64 = 50 * BaseUnit
)

// GenesisMiner, GenesisNote, GenesisNonce, GenesisCreated reproduce the
// Python reference's fixed genesis literal (config.py's GENESIS dict)
// verbatim; section 12.4 of SPEC_FULL.md records why the literal, not just
// its id, is part of the spec.
const (
	GenesisMiner   = "dionyziz"
	GenesisNote    = "The Economist 2021-06-20: Crypto-miners are probably to blame for the graphics-chip shortage"
	GenesisNonce   = "0000000000000000000000000000000000000000000000000000002634878840"
	GenesisCreated = 1624219079
)

// Genesis returns the canonical JSON value of the fixed genesis block, whose
// id is GenesisID: the only block ever accepted with previd == nil.
func Genesis() map[string]interface{} {
	return map[string]interface{}{
		"type":    "block",
		"txids":   []interface{}{},
		"nonce":   GenesisNonce,
		"previd":  nil,
		"created": jsonInt(GenesisCreated),
		"T":       Target,
		"miner":   GenesisMiner,
		"note":    GenesisNote,
	}
}

// jsonInt renders an int64 as a json.Number, the same representation
// canon.Decode produces for an integer literal, so Genesis()'s id matches
// what a wire-decoded copy of the same literal would hash to.
func jsonInt(n int64) interface{} {
	return json.Number(fmt.Sprintf("%d", n))
}

var genesisID string

// GenesisID is the network constant GENESIS_ID: the id of the fixed
// genesis block, computed once from the Genesis() literal.
func GenesisID() string {
	if genesisID == "" {
		b, err := canon.Canonicalize(Genesis())
		if err != nil {
			panic(fmt.Sprintf("objects: genesis literal does not canonicalize: %v", err))
		}
		genesisID = canon.IDOfCanonicalBytes(b)
	}
	return genesisID
}
