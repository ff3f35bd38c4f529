// Package conn implements Connection (section 4.9): the per-session
// protocol engine handling handshake, framed newline-delimited JSON I/O,
// per-message dispatch, and the ingestion pipeline for `object` messages.
//
// Grounded on klaytn's node/cn/peer.go basePeer: a concurrent handshake
// (there, two goroutines racing on an errc channel; here, an initial
// four-message handshake bundle followed by one blocking read), a single
// funneled write path serializing outbound messages, and a term/done
// channel making Close idempotent and safe to call from multiple goroutines
// (basePeer.Close's `close(p.term)`).
package conn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/paulsattlegger/kermapy/internal/canon"
	"github.com/paulsattlegger/kermapy/internal/kerrors"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/objects"
	"github.com/paulsattlegger/kermapy/internal/protocol"
	"github.com/paulsattlegger/kermapy/internal/schema"
	"github.com/paulsattlegger/kermapy/internal/utxo"
)

var log = klog.NewModuleLogger(klog.ComponentConn)

const defaultReadLimit = 1 << 20 // 1 MiB, section 6's BUFFER_SIZE default

type state int32

const (
	stateOpening state = iota
	stateAwaitingHello
	stateEstablished
	stateClosed
)

// objectStore is the read/write surface Connection needs from
// internal/store.ObjectStore. GetUtxo is unused directly here but is part
// of the interface utxo.Validate requires of its store argument.
type objectStore interface {
	Contains(id string) bool
	GetObject(id string) (map[string]interface{}, error)
	GetUtxo(id string) (map[string]int64, error)
	GetChaintip() (string, bool)
	PutObject(obj map[string]interface{}) (string, error)
	PutBlock(obj map[string]interface{}, utxoSnapshot map[string]int64, height int64, newChaintip bool) (string, error)
}

// blockValidator is the BlockValidator surface (internal/chain.Validator).
type blockValidator interface {
	Validate(ctx context.Context, blockMap map[string]interface{}) (map[string]int64, error)
	ResolveObjects(ctx context.Context, ids []string) error
}

// chainManager is the ChainManager surface (internal/chain.Manager).
type chainManager interface {
	Decide(previd *string) (height int64, newChaintip bool, err error)
}

// mempoolHandle is the Mempool surface this connection drives. Section
// 4.9's ingestion algorithm for a lone transaction ends at put_object; it
// never calls add_tx directly (matching the original reference, which
// never wires add_tx into message handling either), so only the chaintip
// rebuild and the read side are needed here.
type mempoolHandle interface {
	HandleChaintipChange() error
	GetPending() []string
}

// peersHandle is the Peers collaborator surface (internal/peers.Peers).
type peersHandle interface {
	Snapshot() []string
	Add(entries []string) []string
}

// Hub is the Node-side fan-out Connection calls into for `ihaveobject`
// broadcast after a successful ingest (section 4.9's last sentence).
type Hub interface {
	Broadcast(from *Connection, msg map[string]interface{})
}

// Deps bundles every collaborator a Connection needs, constructed once by
// Node per accepted/dialed socket.
type Deps struct {
	Store          objectStore
	BlockValidator blockValidator
	ChainManager   chainManager
	Mempool        mempoolHandle
	Peers          peersHandle
	Hub            Hub
	ReadLimit      int
}

// Connection is one peer session (section 4.9).
type Connection struct {
	deps Deps

	netConn net.Conn
	reader  *bufio.Reader

	writeMu sync.Mutex

	state atomic.Int32

	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc

	remoteAddr string
}

// New constructs a Connection over an already-dialed or accepted socket.
// Callers must call Run to drive the session.
func New(netConn net.Conn, deps Deps) *Connection {
	limit := deps.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	return &Connection{
		deps:       deps,
		netConn:    netConn,
		reader:     bufio.NewReaderSize(netConn, limit),
		done:       make(chan struct{}),
		remoteAddr: netConn.RemoteAddr().String(),
	}
}

// RemoteAddr is the dialed/accepted socket's remote address, used by Node
// for the "peer name equals an existing peer_name" outbound dedup rule.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Done is closed once the connection has fully shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State reports the session's current protocol state.
func (c *Connection) State() string {
	switch state(c.state.Load()) {
	case stateOpening:
		return "opening"
	case stateAwaitingHello:
		return "awaiting_hello"
	case stateEstablished:
		return "established"
	default:
		return "closed"
	}
}

// Run drives the session to completion: sends the handshake bundle, reads
// and validates the peer's hello, then dispatches Established-state
// messages concurrently (section 5: per-message tasks share the
// connection's serialized writer) until the connection closes. It returns
// once the session has ended; Close has already run by the time it does.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer c.Close()

	c.state.Store(int32(stateAwaitingHello))
	if err := c.sendHandshakeBundle(); err != nil {
		return err
	}

	line, err := c.readLine()
	if err != nil {
		return err
	}
	if err := c.handleHandshakeLine(line); err != nil {
		c.writeErrorReply(err)
		return err
	}
	c.state.Store(int32(stateEstablished))

	var wg sync.WaitGroup
	for {
		line, err := c.readLine()
		if err != nil {
			break
		}
		wg.Add(1)
		go func(line []byte) {
			defer wg.Done()
			c.handleEstablishedLine(ctx, line)
		}(line)
	}
	wg.Wait()
	return nil
}

// Close shuts the session down. Idempotent and safe to call concurrently
// with Run and with in-flight per-message tasks.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.netConn.Close()
		close(c.done)
	})
}

// Deliver writes an already-constructed message to this connection, used
// by Node's broadcast fan-out. Errors are the caller's to tolerate
// (section 4.10: "tolerating individual failures").
func (c *Connection) Deliver(msg map[string]interface{}) error {
	return c.sendMap(msg)
}

func (c *Connection) sendHandshakeBundle() error {
	for _, msg := range []interface{}{
		protocol.NewHello(),
		protocol.NewGetPeers(),
		protocol.NewGetChaintip(),
		protocol.NewGetMempool(),
	} {
		if err := c.send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) readLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, &kerrors.TransportError{Err: err}
	}
	return bytes.TrimRight(line, "\n"), nil
}

func (c *Connection) send(v interface{}) error {
	m, err := protocol.ToMap(v)
	if err != nil {
		return err
	}
	return c.sendMap(m)
}

func (c *Connection) sendMap(m map[string]interface{}) error {
	b, err := canon.Canonicalize(m)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.netConn.Write(b); err != nil {
		return &kerrors.TransportError{Err: err}
	}
	return nil
}

func (c *Connection) writeErrorReply(err error) {
	msg, ok := kerrors.AsReplyMessage(err)
	if !ok {
		msg = err.Error()
	}
	if sendErr := c.send(protocol.NewError(msg)); sendErr != nil {
		log.Debug("could not write error reply", "err", sendErr)
	}
}

// decodeMessage parses line and validates it against the tagged-union
// envelope shape every inbound message must satisfy before dispatch looks
// at "type" (section 4.3).
func decodeMessage(line []byte) (map[string]interface{}, error) {
	if !utf8.Valid(line) {
		return nil, &kerrors.ParseError{Err: fmt.Errorf("message is not valid UTF-8")}
	}
	v, err := canon.Decode(line)
	if err != nil {
		return nil, &kerrors.ParseError{Err: err}
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, &kerrors.SchemaError{Message: "expected a JSON object"}
	}
	if serr := schema.Validate(obj, schema.MessageEnvelopeShape); serr != nil {
		return nil, serr
	}
	return obj, nil
}

// handleHandshakeLine implements section 4.9's handshake completion: a
// schema failure, or a type other than "hello", writes an error reply and
// closes the session (the caller does both on a non-nil return).
func (c *Connection) handleHandshakeLine(line []byte) error {
	msg, err := decodeMessage(line)
	if err != nil {
		return err
	}
	msgType, _ := msg["type"].(string)
	if msgType != "hello" {
		return &kerrors.ProtocolError{Message: "expected hello message"}
	}
	if serr := schema.Validate(msg, schema.HelloShape); serr != nil {
		return serr
	}
	return nil
}

// handleEstablishedLine dispatches one Established-state message (section
// 4.9's dispatch table). Errors here produce a local error reply; they
// never close the connection (the handshake phase is the sole exception).
func (c *Connection) handleEstablishedLine(ctx context.Context, line []byte) {
	msg, err := decodeMessage(line)
	if err != nil {
		c.writeErrorReply(err)
		return
	}

	msgType, _ := msg["type"].(string)
	if shape, ok := schema.ShapeFor(msgType); ok {
		if serr := schema.Validate(msg, shape); serr != nil {
			c.writeErrorReply(serr)
			return
		}
	}

	switch msgType {
	case "hello":
		c.writeErrorReply(&kerrors.ProtocolError{Message: "duplicate hello"})
	case "getpeers":
		c.send(protocol.NewPeers(c.deps.Peers.Snapshot()))
	case "peers":
		c.handlePeersMessage(msg)
	case "getobject":
		c.handleGetObjectMessage(msg)
	case "ihaveobject":
		c.handleIHaveObjectMessage(msg)
	case "object":
		c.handleObjectMessage(ctx, msg)
	case "getchaintip":
		c.handleGetChaintipMessage()
	case "chaintip":
		c.handleChaintipMessage(msg)
	case "getmempool":
		c.send(protocol.NewMempool(c.deps.Mempool.GetPending()))
	case "mempool":
		c.handleMempoolMessage(ctx, msg)
	case "error":
		// Reply-only; nothing to act on when we receive one.
	default:
		c.writeErrorReply(&kerrors.SchemaError{Message: fmt.Sprintf("unknown message type %q", msgType)})
	}
}

func (c *Connection) handlePeersMessage(msg map[string]interface{}) {
	raw, _ := msg["peers"].([]interface{})
	entries := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			entries = append(entries, s)
		}
	}
	c.deps.Peers.Add(entries)
}

func (c *Connection) handleGetObjectMessage(msg map[string]interface{}) {
	id, _ := msg["objectid"].(string)
	obj, err := c.deps.Store.GetObject(id)
	if err != nil {
		return
	}
	c.send(protocol.NewObject(obj))
}

func (c *Connection) handleIHaveObjectMessage(msg map[string]interface{}) {
	id, _ := msg["objectid"].(string)
	if !c.deps.Store.Contains(id) {
		c.send(protocol.NewGetObject(id))
	}
}

func (c *Connection) handleObjectMessage(ctx context.Context, msg map[string]interface{}) {
	obj, _ := msg["object"].(map[string]interface{})
	if err := c.ingestObject(ctx, obj); err != nil {
		if reply, ok := kerrors.AsReplyMessage(err); ok {
			c.send(protocol.NewError(reply))
		} else {
			log.Error("unexpected error ingesting object", "err", err)
		}
	}
}

func (c *Connection) handleGetChaintipMessage() {
	tip, ok := c.deps.Store.GetChaintip()
	if !ok {
		return
	}
	c.send(protocol.NewChaintip(tip))
}

func (c *Connection) handleChaintipMessage(msg map[string]interface{}) {
	id, _ := msg["blockid"].(string)
	if !c.deps.Store.Contains(id) {
		c.send(protocol.NewGetObject(id))
	}
}

func (c *Connection) handleMempoolMessage(ctx context.Context, msg map[string]interface{}) {
	raw, _ := msg["txids"].([]interface{})
	txids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			txids = append(txids, s)
		}
	}

	var missing []string
	for _, id := range txids {
		if !c.deps.Store.Contains(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := c.deps.BlockValidator.ResolveObjects(ctx, missing); err != nil {
			log.Debug("could not resolve advertised mempool transactions", "err", err)
			return
		}
	}

	for _, id := range txids {
		obj, err := c.deps.Store.GetObject(id)
		if err != nil {
			continue
		}
		if err := c.ingestObject(ctx, obj); err != nil {
			log.Debug("could not ingest advertised mempool transaction", "txid", id, "err", err)
		}
	}
}

// ingestObject implements section 4.9's "Ingestion of object": dedup by
// id, type-specific validation, store write, chain/mempool updates, and
// the ihaveobject broadcast on any success.
func (c *Connection) ingestObject(ctx context.Context, obj map[string]interface{}) error {
	if obj == nil {
		return &kerrors.SchemaError{Message: "missing object payload"}
	}
	oid, err := canon.ID(obj)
	if err != nil {
		return &kerrors.ParseError{Err: err}
	}
	if c.deps.Store.Contains(oid) {
		return nil
	}

	objType, _ := obj["type"].(string)
	switch objType {
	case "transaction":
		if err := c.ingestTransaction(obj); err != nil {
			return err
		}
	case "block":
		if err := c.ingestBlock(ctx, obj); err != nil {
			return err
		}
	default:
		return &kerrors.SchemaError{Message: fmt.Sprintf("unknown object type %q", objType)}
	}

	c.deps.Hub.Broadcast(c, map[string]interface{}{"type": "ihaveobject", "objectid": oid})
	return nil
}

func (c *Connection) ingestTransaction(obj map[string]interface{}) error {
	if _, _, err := utxo.Validate(obj, c.deps.Store); err != nil {
		return err
	}
	_, err := c.deps.Store.PutObject(obj)
	return err
}

func (c *Connection) ingestBlock(ctx context.Context, obj map[string]interface{}) error {
	newUtxo, err := c.deps.BlockValidator.Validate(ctx, obj)
	if err != nil {
		return err
	}
	block, err := objects.BlockFromMap(obj)
	if err != nil {
		return err
	}
	height, newChaintip, err := c.deps.ChainManager.Decide(block.Previd)
	if err != nil {
		return err
	}
	if _, err := c.deps.Store.PutBlock(obj, newUtxo, height, newChaintip); err != nil {
		return err
	}
	if newChaintip {
		if err := c.deps.Mempool.HandleChaintipChange(); err != nil {
			log.Error("mempool rebuild after chaintip change failed", "err", err)
		}
	}
	return nil
}
