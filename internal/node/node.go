// Package node implements Node (section 4.10): the listener, the outbound
// connector, the live Connection set, and broadcast fan-out.
//
// Grounded on klaytn's node.Service Start/Stop lifecycle convention
// (node/service.go) and on node/cn/peer.go's basePeer for the per-peer
// known-object bookkeeping this package's broadcaster uses to skip
// redundant sends — there, a `common.Cache` (golang-lru) of known
// tx/block hashes per peer; here, one `lru.Cache` of already-announced
// object ids per live Connection, bounded by knownObjectsCacheSize.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/golang-lru"

	"github.com/paulsattlegger/kermapy/internal/chain"
	"github.com/paulsattlegger/kermapy/internal/conn"
	"github.com/paulsattlegger/kermapy/internal/config"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/mempool"
	"github.com/paulsattlegger/kermapy/internal/peers"
	"github.com/paulsattlegger/kermapy/internal/store"
)

var log = klog.NewModuleLogger(klog.ComponentNode)

// knownObjectsCacheSize bounds the per-connection known-object cache,
// grounded on node/cn/peer.go's maxKnownBlocks (1024): objects, not just
// blocks, flow through here, so the bound is set generously rather than
// split into separate tx/block caches.
const knownObjectsCacheSize = 8192

// Node owns the listener, the outbound connector, and the live Connection
// set, per section 4.10.
type Node struct {
	cfg   *config.Config
	store *store.ObjectStore
	peers *peers.Peers

	blockValidator *chain.Validator
	chainManager   *chain.Manager
	mempool        *mempool.Mempool

	listener net.Listener
	ready    chan struct{}

	mu    sync.Mutex
	conns map[*conn.Connection]*lru.Cache

	outboundSem chan struct{}

	wg sync.WaitGroup
}

// New wires every collaborator Node needs from the already-open store and
// loaded peer table; Run starts the listener and outbound connector.
func New(cfg *config.Config, objectStore *store.ObjectStore, peerTable *peers.Peers) (*Node, error) {
	n := &Node{
		cfg:         cfg,
		store:       objectStore,
		peers:       peerTable,
		conns:       make(map[*conn.Connection]*lru.Cache),
		outboundSem: make(chan struct{}, cfg.ClientConnections),
		ready:       make(chan struct{}),
	}
	n.chainManager = chain.NewManager(objectStore)
	n.blockValidator = chain.NewValidator(objectStore, chainBroadcaster{n}, chain.DefaultResolveTimeout)
	n.mempool = mempool.New(objectStore)
	if err := n.mempool.Init(); err != nil {
		return nil, fmt.Errorf("node: mempool init: %w", err)
	}
	return n, nil
}

// chainBroadcaster adapts Node to chain.Broadcaster's single-argument
// Broadcast method, distinct from conn.Hub's Broadcast(from, msg) that
// Node itself implements — Go does not allow one type to carry two
// differently-shaped methods of the same name.
type chainBroadcaster struct{ n *Node }

func (b chainBroadcaster) Broadcast(msg map[string]interface{}) {
	b.n.broadcastExcept(nil, msg)
}

// Broadcast implements conn.Hub: send msg to every live connection other
// than from. For `ihaveobject` messages it records, per connection, the
// object ids already announced to it, so no peer is sent the same
// announcement twice.
func (n *Node) Broadcast(from *conn.Connection, msg map[string]interface{}) {
	n.broadcastExcept(from, msg)
}

func (n *Node) broadcastExcept(from *conn.Connection, msg map[string]interface{}) {
	var objectID string
	if msgType, _ := msg["type"].(string); msgType == "ihaveobject" {
		objectID, _ = msg["objectid"].(string)
	}

	n.mu.Lock()
	targets := make([]*conn.Connection, 0, len(n.conns))
	caches := make([]*lru.Cache, 0, len(n.conns))
	for c, known := range n.conns {
		if c == from {
			continue
		}
		if objectID != "" {
			if _, seen := known.Get(objectID); seen {
				continue
			}
		}
		targets = append(targets, c)
		caches = append(caches, known)
	}
	n.mu.Unlock()

	for i, c := range targets {
		if objectID != "" {
			caches[i].Add(objectID, struct{}{})
		}
		n.wg.Add(1)
		go func(c *conn.Connection, msg map[string]interface{}) {
			defer n.wg.Done()
			if err := c.Deliver(msg); err != nil {
				log.Debug("broadcast delivery failed", "peer", c.RemoteAddr(), "err", err)
			}
		}(c, msg)
	}
}

// Run starts the listener and the outbound connector, blocking until ctx
// is cancelled. It returns once every spawned task has joined.
func (n *Node) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("node: listen on %s: %w", n.cfg.ListenAddr, err)
	}
	n.listener = ln
	close(n.ready)
	log.Info("listening", "addr", n.cfg.ListenAddr)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.acceptLoop(ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.connectBootstrap(ctx)
	}()

	<-ctx.Done()
	_ = n.listener.Close()
	n.mu.Lock()
	for c := range n.conns {
		c.Close()
	}
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		netConn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error("accept failed", "err", err)
				return
			}
		}
		n.adopt(ctx, netConn)
	}
}

// connectBootstrap dials every peer the Peers collaborator knows about at
// startup, bounded by outboundSem (section 4.10's concurrent-outbound
// semaphore, default CLIENT_CONNECTIONS).
func (n *Node) connectBootstrap(ctx context.Context) {
	for _, peer := range n.peers.ActivePeers() {
		peer := peer
		select {
		case <-ctx.Done():
			return
		case n.outboundSem <- struct{}{}:
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer func() { <-n.outboundSem }()
			n.dial(ctx, peer)
		}()
	}
}

func (n *Node) dial(ctx context.Context, peerAddr string) {
	if n.hasConnectionTo(peerAddr) {
		return
	}
	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		log.Debug("outbound dial failed", "peer", peerAddr, "err", err)
		n.peers.MarkInactive(peerAddr)
		return
	}
	n.peers.MarkActive(peerAddr)
	n.adopt(ctx, netConn)
}

func (n *Node) hasConnectionTo(peerAddr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.conns {
		if c.RemoteAddr() == peerAddr {
			return true
		}
	}
	return false
}

func (n *Node) adopt(ctx context.Context, netConn net.Conn) {
	known, err := lru.New(knownObjectsCacheSize)
	if err != nil {
		log.Error("could not allocate known-object cache", "err", err)
		_ = netConn.Close()
		return
	}

	deps := conn.Deps{
		Store:          n.store,
		BlockValidator: n.blockValidator,
		ChainManager:   n.chainManager,
		Mempool:        n.mempool,
		Peers:          n.peers,
		Hub:            n,
		ReadLimit:      n.cfg.BufferSize,
	}
	c := conn.New(netConn, deps)

	n.mu.Lock()
	n.conns[c] = known
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.drop(c)
		if err := c.Run(ctx); err != nil {
			log.Debug("connection ended", "peer", c.RemoteAddr(), "err", err)
		}
	}()
}

func (n *Node) drop(c *conn.Connection) {
	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

// Close closes the ObjectStore. It does no joining of its own; Run joins
// every connection and background task before it returns.
func (n *Node) Close() error {
	return n.store.Close()
}

// Ready closes once the listener is bound, for callers (tests, an
// outer supervisor) that need the live address before dialing it.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Addr returns the listener's bound address. Valid only after Ready
// closes.
func (n *Node) Addr() net.Addr { return n.listener.Addr() }
