// Package protocol holds the typed wire message records dispatch switches
// on once SchemaValidator (internal/schema) has accepted the raw JSON
// (design note 9.2). Outbound constructors mirror the Python reference's
// messages.py literals.
package protocol

import "fmt"

// ModuleVersion is this module's own release version, distinct from
// Version (the wire protocol version below) — interpolated into the
// outbound hello's agent string per section 6.
const ModuleVersion = "0.1.0"

// Agent is the identifier this node announces in its hello message.
var Agent = fmt.Sprintf("Kermapy %s (go)", ModuleVersion)

// Version is the protocol version this node speaks and accepts (pattern
// 0.8.\d, section 6); nodes announce the newest minor they implement.
const Version = "0.8.1"

type Hello struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	Agent   string `json:"agent,omitempty"`
}

func NewHello() Hello {
	return Hello{Type: "hello", Version: Version, Agent: Agent}
}

type GetPeers struct {
	Type string `json:"type"`
}

func NewGetPeers() GetPeers { return GetPeers{Type: "getpeers"} }

type Peers struct {
	Type  string   `json:"type"`
	Peers []string `json:"peers"`
}

func NewPeers(peers []string) Peers { return Peers{Type: "peers", Peers: peers} }

type GetObject struct {
	Type     string `json:"type"`
	ObjectID string `json:"objectid"`
}

func NewGetObject(id string) GetObject { return GetObject{Type: "getobject", ObjectID: id} }

type IHaveObject struct {
	Type     string `json:"type"`
	ObjectID string `json:"objectid"`
}

func NewIHaveObject(id string) IHaveObject { return IHaveObject{Type: "ihaveobject", ObjectID: id} }

// Object carries a raw, already schema-validated object payload. The
// payload stays as an untyped map here: the ingestion pipeline decides
// whether to decode it as a transaction or a block.
type Object struct {
	Type   string                 `json:"type"`
	Object map[string]interface{} `json:"object"`
}

func NewObject(obj map[string]interface{}) Object { return Object{Type: "object", Object: obj} }

type GetChaintip struct {
	Type string `json:"type"`
}

func NewGetChaintip() GetChaintip { return GetChaintip{Type: "getchaintip"} }

type Chaintip struct {
	Type    string `json:"type"`
	BlockID string `json:"blockid"`
}

func NewChaintip(id string) Chaintip { return Chaintip{Type: "chaintip", BlockID: id} }

type GetMempool struct {
	Type string `json:"type"`
}

func NewGetMempool() GetMempool { return GetMempool{Type: "getmempool"} }

type Mempool struct {
	Type  string   `json:"type"`
	Txids []string `json:"txids"`
}

func NewMempool(txids []string) Mempool {
	if txids == nil {
		txids = []string{}
	}
	return Mempool{Type: "mempool", Txids: txids}
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) ErrorMessage { return ErrorMessage{Type: "error", Error: msg} }

// ToMap converts a concrete outbound message to the generic representation
// canon.Canonicalize expects. It round-trips through the struct's own JSON
// tags so field names stay centralized on the typed definitions above.
func ToMap(v interface{}) (map[string]interface{}, error) {
	return toGenericMap(v)
}
