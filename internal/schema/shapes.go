package schema

import "regexp"

var (
	hex64Pattern     = regexp.MustCompile(`^[0-9a-f]{64}$`)
	hex128Pattern    = regexp.MustCompile(`^[0-9a-f]{128}$`)
	versionPattern   = regexp.MustCompile(`^0\.8\.\d$`)
	asciiPrintable   = regexp.MustCompile(`^[\x20-\x7E]*$`)
	peerEntryPattern = regexp.MustCompile(`^\S+:\d+$`)

	hex64 = &Shape{Kind: KindString, Pattern: hex64Pattern, HasLength: true, MinLength: 64, MaxLength: 64}
	sig   = &Shape{Kind: KindString, Pattern: hex128Pattern, HasLength: true, MinLength: 128, MaxLength: 128}
	// pk is a 32-byte public key: the same 64 hex-char shape as an object id.
	pk = &Shape{Kind: KindString, Pattern: hex64Pattern, HasLength: true, MinLength: 64, MaxLength: 64}

	anyString = &Shape{Kind: KindString}

	nonNegative = &Shape{Kind: KindInteger, HasMin: true, Min: minInt(0)}

	ascii128 = &Shape{Kind: KindString, Pattern: asciiPrintable, HasLength: true, MinLength: 0, MaxLength: 128}
)

// OutpointShape validates section 3's Input.outpoint: {txid, index>=0}.
var OutpointShape = &Shape{
	Kind:     KindObject,
	Required: []string{"txid", "index"},
	Fields: map[string]*Shape{
		"txid":  hex64,
		"index": nonNegative,
	},
}

// InputShape validates one transaction input: {outpoint, sig}.
var InputShape = &Shape{
	Kind:     KindObject,
	Required: []string{"outpoint", "sig"},
	Fields: map[string]*Shape{
		"outpoint": OutpointShape,
		"sig":      sig,
	},
}

// OutputShape validates one transaction output: {pubkey, value>=0}.
var OutputShape = &Shape{
	Kind:     KindObject,
	Required: []string{"pubkey", "value"},
	Fields: map[string]*Shape{
		"pubkey": pk,
		"value":  nonNegative,
	},
}

// TransactionShape validates a non-coinbase transaction.
var TransactionShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "inputs", "outputs"},
	Fields: map[string]*Shape{
		"type":    &Shape{Kind: KindString, Enum: []string{"transaction"}},
		"inputs":  &Shape{Kind: KindArray, Items: InputShape},
		"outputs": &Shape{Kind: KindArray, Items: OutputShape},
	},
}

// CoinbaseShape validates a coinbase transaction: height present, no inputs.
var CoinbaseShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "height", "outputs"},
	Fields: map[string]*Shape{
		"type":    &Shape{Kind: KindString, Enum: []string{"transaction"}},
		"height":  nonNegative,
		"outputs": &Shape{Kind: KindArray, Items: OutputShape},
	},
}

// AllTransactionsShape accepts either a coinbase or a regular transaction,
// matching section 4.4 step 1's "validate(tx, AllTransactionsShape)".
var AllTransactionsShape = &Shape{
	Name:  "AllTransactionsShape",
	OneOf: []*Shape{CoinbaseShape, TransactionShape},
}

// BlockShape validates section 3's Block.
var BlockShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "txids", "nonce", "previd", "created", "T"},
	Fields: map[string]*Shape{
		"type":    &Shape{Kind: KindString, Enum: []string{"block"}},
		"txids":   &Shape{Kind: KindArray, Items: hex64},
		"nonce":   &Shape{Kind: KindString, Pattern: hex64Pattern, HasLength: true, MinLength: 64, MaxLength: 64},
		"previd":  &Shape{Kind: KindString, Pattern: hex64Pattern, HasLength: true, MinLength: 64, MaxLength: 64, Nullable: true},
		"created": &Shape{Kind: KindInteger},
		"T":       &Shape{Kind: KindString, Pattern: hex64Pattern, HasLength: true, MinLength: 64, MaxLength: 64},
		"miner":   ascii128,
		"note":    ascii128,
	},
}

// ObjectShape validates the payload of an "object" message: a transaction,
// coinbase, or block (section 6).
var ObjectShape = &Shape{
	Name:  "ObjectShape",
	OneOf: []*Shape{CoinbaseShape, TransactionShape, BlockShape},
}

// Wire message shapes (section 6).

var HelloShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "version"},
	Fields: map[string]*Shape{
		"type":    &Shape{Kind: KindString, Enum: []string{"hello"}},
		"version": &Shape{Kind: KindString, Pattern: versionPattern},
		"agent":   anyString,
	},
	AdditionalProperties: true,
}

var GetPeersShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type"},
	Fields:   map[string]*Shape{"type": &Shape{Kind: KindString, Enum: []string{"getpeers"}}},
}

var PeersShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "peers"},
	Fields: map[string]*Shape{
		"type":  &Shape{Kind: KindString, Enum: []string{"peers"}},
		"peers": &Shape{Kind: KindArray, Items: &Shape{Kind: KindString, Pattern: peerEntryPattern}},
	},
}

var GetObjectShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "objectid"},
	Fields: map[string]*Shape{
		"type":     &Shape{Kind: KindString, Enum: []string{"getobject"}},
		"objectid": hex64,
	},
}

var IHaveObjectShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "objectid"},
	Fields: map[string]*Shape{
		"type":     &Shape{Kind: KindString, Enum: []string{"ihaveobject"}},
		"objectid": hex64,
	},
}

var ObjectMessageShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "object"},
	Fields: map[string]*Shape{
		"type":   &Shape{Kind: KindString, Enum: []string{"object"}},
		"object": ObjectShape,
	},
}

var GetChaintipShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type"},
	Fields:   map[string]*Shape{"type": &Shape{Kind: KindString, Enum: []string{"getchaintip"}}},
}

var ChaintipShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "blockid"},
	Fields: map[string]*Shape{
		"type":    &Shape{Kind: KindString, Enum: []string{"chaintip"}},
		"blockid": hex64,
	},
}

var GetMempoolShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type"},
	Fields:   map[string]*Shape{"type": &Shape{Kind: KindString, Enum: []string{"getmempool"}}},
}

var MempoolShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "txids"},
	Fields: map[string]*Shape{
		"type":  &Shape{Kind: KindString, Enum: []string{"mempool"}},
		"txids": &Shape{Kind: KindArray, Items: hex64},
	},
}

var ErrorShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type", "error"},
	Fields: map[string]*Shape{
		"type":  &Shape{Kind: KindString, Enum: []string{"error"}},
		"error": anyString,
	},
}

// MessageEnvelopeShape is the minimal tagged-union shape every inbound
// message must satisfy before dispatch looks at "type" (section 4.3): a
// JSON object whose "type" field is one of the known message type strings.
var MessageEnvelopeShape = &Shape{
	Kind:     KindObject,
	Required: []string{"type"},
	Fields: map[string]*Shape{
		"type": &Shape{Kind: KindString, Enum: []string{
			"hello", "getpeers", "peers", "getobject", "ihaveobject", "object",
			"getchaintip", "chaintip", "getmempool", "mempool", "error",
		}},
	},
	AdditionalProperties: true,
}

// ShapeFor returns the concrete shape for a validated message "type" value.
func ShapeFor(messageType string) (*Shape, bool) {
	switch messageType {
	case "hello":
		return HelloShape, true
	case "getpeers":
		return GetPeersShape, true
	case "peers":
		return PeersShape, true
	case "getobject":
		return GetObjectShape, true
	case "ihaveobject":
		return IHaveObjectShape, true
	case "object":
		return ObjectMessageShape, true
	case "getchaintip":
		return GetChaintipShape, true
	case "chaintip":
		return ChaintipShape, true
	case "getmempool":
		return GetMempoolShape, true
	case "mempool":
		return MempoolShape, true
	case "error":
		return ErrorShape, true
	default:
		return nil, false
	}
}
