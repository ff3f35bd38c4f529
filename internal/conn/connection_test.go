package conn

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paulsattlegger/kermapy/internal/canon"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]map[string]interface{}
	chain   string
	hasTip  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]map[string]interface{})}
}

func (s *fakeStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok
}

func (s *fakeStore) GetObject(id string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, errNotFound
	}
	return obj, nil
}

func (s *fakeStore) GetUtxo(id string) (map[string]int64, error) { return nil, errNotFound }

func (s *fakeStore) GetChaintip() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain, s.hasTip
}

func (s *fakeStore) PutObject(obj map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := obj["__id"].(string)
	s.objects[id] = obj
	return id, nil
}

func (s *fakeStore) PutBlock(obj map[string]interface{}, utxoSnapshot map[string]int64, height int64, newChaintip bool) (string, error) {
	return s.PutObject(obj)
}

var errNotFound = errNotFoundType{}

type errNotFoundType struct{}

func (errNotFoundType) Error() string { return "not found" }

type fakeBlockValidator struct {
	resolveErr error
}

func (f *fakeBlockValidator) Validate(ctx context.Context, blockMap map[string]interface{}) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (f *fakeBlockValidator) ResolveObjects(ctx context.Context, ids []string) error {
	return f.resolveErr
}

type fakeChainManager struct{}

func (f *fakeChainManager) Decide(previd *string) (int64, bool, error) { return 1, false, nil }

type fakeMempool struct {
	pending []string
	calls   int
}

func (f *fakeMempool) AddTx(txid string) error     { return nil }
func (f *fakeMempool) HandleChaintipChange() error { f.calls++; return nil }
func (f *fakeMempool) GetPending() []string        { return f.pending }

type fakePeers struct {
	snapshot []string
	added    [][]string
}

func (f *fakePeers) Snapshot() []string { return f.snapshot }
func (f *fakePeers) Add(entries []string) []string {
	f.added = append(f.added, entries)
	return entries
}

type fakeHub struct {
	mu        sync.Mutex
	broadcast []map[string]interface{}
}

func (h *fakeHub) Broadcast(from *Connection, msg map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, msg)
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.broadcast)
}

func newTestDeps() (Deps, *fakeStore, *fakeMempool, *fakePeers, *fakeHub) {
	store := newFakeStore()
	mp := &fakeMempool{}
	pr := &fakePeers{snapshot: []string{"1.1.1.1:18018"}}
	hub := &fakeHub{}
	deps := Deps{
		Store:          store,
		BlockValidator: &fakeBlockValidator{},
		ChainManager:   &fakeChainManager{},
		Mempool:        mp,
		Peers:          pr,
		Hub:            hub,
	}
	return deps, store, mp, pr, hub
}

// readMessages drains n newline-delimited JSON messages from r, parsing
// each as a map, with a generous timeout so a stalled handshake fails
// fast instead of hanging the test suite.
func readMessages(t *testing.T, conn net.Conn, n int) []map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		out = append(out, decodeLineForTest(t, line))
	}
	return out
}

func decodeLineForTest(t *testing.T, line []byte) map[string]interface{} {
	t.Helper()
	obj, err := decodeMessage(line)
	require.NoError(t, err)
	return obj
}

func TestHandshakeBundleSentInOrder(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, _, _ := newTestDeps()
	c := New(serverConn, deps)

	go func() {
		_ = c.Run(context.Background())
	}()
	defer c.Close()

	msgs := readMessages(t, clientConn, 4)
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i], _ = m["type"].(string)
	}
	require.Equal(t, []string{"hello", "getpeers", "getchaintip", "getmempool"}, types)
}

func sendLine(t *testing.T, conn net.Conn, obj map[string]interface{}) {
	t.Helper()
	b, err := canon.Canonicalize(obj)
	require.NoError(t, err)
	b = append(b, '\n')
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func TestPreHandshakeNonHelloClosesConnection(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, _, _ := newTestDeps()
	c := New(serverConn, deps)

	go func() {
		_ = c.Run(context.Background())
	}()

	readMessages(t, clientConn, 4)

	sendLine(t, clientConn, map[string]interface{}{"type": "getpeers"})

	_ = clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(clientConn)
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	reply := decodeLineForTest(t, line)
	require.Equal(t, "error", reply["type"])

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after handshake-phase error")
	}
}

func completeHandshake(t *testing.T, clientConn net.Conn) {
	t.Helper()
	readMessages(t, clientConn, 4)
	sendLine(t, clientConn, map[string]interface{}{
		"type":    "hello",
		"version": "0.8.0",
		"agent":   "test-agent",
	})
}

func TestDuplicateHelloRepliesErrorWithoutClosing(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, _, _ := newTestDeps()
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)

	sendLine(t, clientConn, map[string]interface{}{
		"type":    "hello",
		"version": "0.8.0",
		"agent":   "test-agent",
	})

	msg := readMessages(t, clientConn, 1)[0]
	require.Equal(t, "error", msg["type"])

	select {
	case <-c.Done():
		t.Fatal("connection closed after a post-handshake duplicate hello")
	default:
	}
}

func TestGetPeersRepliesWithSnapshot(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, peersDep, _ := newTestDeps()
	peersDep.snapshot = []string{"2.2.2.2:18018", "3.3.3.3:18018"}
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)

	sendLine(t, clientConn, map[string]interface{}{"type": "getpeers"})

	msg := readMessages(t, clientConn, 1)[0]
	require.Equal(t, "peers", msg["type"])
}

func TestPeersMessageForwardedToPeersCollaborator(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, peersDep, _ := newTestDeps()
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)

	sendLine(t, clientConn, map[string]interface{}{
		"type":  "peers",
		"peers": []interface{}{"4.4.4.4:18018"},
	})

	require.Eventually(t, func() bool {
		return len(peersDep.added) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"4.4.4.4:18018"}, peersDep.added[0])
}

func TestIHaveObjectRequestsUnknownObject(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, _, _ := newTestDeps()
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)

	objid := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sendLine(t, clientConn, map[string]interface{}{"type": "ihaveobject", "objectid": objid})

	msg := readMessages(t, clientConn, 1)[0]
	require.Equal(t, "getobject", msg["type"])
	require.Equal(t, objid, msg["objectid"])
}

func TestGetChaintipDropsWhenNoTipKnown(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, _, _, _, _ := newTestDeps()
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)
	sendLine(t, clientConn, map[string]interface{}{"type": "getchaintip"})
	sendLine(t, clientConn, map[string]interface{}{"type": "getpeers"})

	msg := readMessages(t, clientConn, 1)[0]
	require.Equal(t, "peers", msg["type"])
}

func TestIngestAlreadyStoredObjectNeverBroadcasts(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	deps, store, _, _, hub := newTestDeps()
	c := New(serverConn, deps)
	go func() { _ = c.Run(context.Background()) }()
	defer c.Close()

	completeHandshake(t, clientConn)

	obj := map[string]interface{}{"type": "transaction", "inputs": []interface{}{}, "outputs": []interface{}{}}
	oid, err := canon.ID(obj)
	require.NoError(t, err)

	// Pre-seed the store so ingestObject's dedup check short-circuits on
	// every call, exercising the idempotent-ingest path directly rather
	// than depending on full transaction validation succeeding.
	store.mu.Lock()
	store.objects[oid] = obj
	store.mu.Unlock()

	ctx := context.Background()
	require.NoError(t, c.ingestObject(ctx, obj))
	require.NoError(t, c.ingestObject(ctx, obj))
	require.Equal(t, 0, hub.count())
}
