package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects     map[string]map[string]interface{}
	utxos       map[string]map[string]int64
	heights     map[string]int64
	chaintip    string
	hasChaintip bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]map[string]interface{}),
		utxos:   make(map[string]map[string]int64),
		heights: make(map[string]int64),
	}
}

func (s *fakeStore) GetChaintip() (string, bool) { return s.chaintip, s.hasChaintip }

func (s *fakeStore) GetHeight(id string) (int64, error) {
	h, ok := s.heights[id]
	if !ok {
		return 0, errNotFound
	}
	return h, nil
}

func (s *fakeStore) GetObject(id string) (map[string]interface{}, error) {
	obj, ok := s.objects[id]
	if !ok {
		return nil, errNotFound
	}
	return obj, nil
}

func (s *fakeStore) GetUtxo(id string) (map[string]int64, error) {
	u, ok := s.utxos[id]
	if !ok {
		return nil, errNotFound
	}
	return u, nil
}

func (s *fakeStore) Contains(id string) bool {
	_, ok := s.objects[id]
	return ok
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNotFound = fakeErr("not found")

func block(previd *string, txids ...string) map[string]interface{} {
	m := map[string]interface{}{"type": "block", "txids": txids, "previd": nil}
	if previd != nil {
		m["previd"] = *previd
	}
	return m
}

func coinbaseTx(height int64, pubkey string, value int64) map[string]interface{} {
	return map[string]interface{}{
		"type":   "transaction",
		"height": height,
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": pubkey, "value": value},
		},
	}
}

func spendTx(prevTxid string, prevIndex int, pubkey string, value int64) map[string]interface{} {
	return map[string]interface{}{
		"type": "transaction",
		"inputs": []interface{}{
			map[string]interface{}{
				"outpoint": map[string]interface{}{"txid": prevTxid, "index": prevIndex},
				"sig":      "00",
			},
		},
		"outputs": []interface{}{
			map[string]interface{}{"pubkey": pubkey, "value": value},
		},
	}
}

func TestInitEmptyStoreStartsAtHeightMinusOne(t *testing.T) {
	st := newFakeStore()
	m := New(st)
	require.NoError(t, m.Init())
	require.Equal(t, int64(-1), m.height)
	require.Empty(t, m.GetPending())
}

func TestAddTxMarksItPending(t *testing.T) {
	st := newFakeStore()
	pubkey := "aa"
	st.objects["genesis"] = block(nil)
	st.heights["genesis"] = 0
	st.utxos["genesis"] = map[string]int64{}
	st.chaintip = "genesis"
	st.hasChaintip = true

	st.objects["cb1"] = coinbaseTx(1, pubkey, 100)
	st.utxos["genesis"]["cb1_"+pubkey+"_0"] = 100

	m := New(st)
	require.NoError(t, m.Init())

	st.objects["spend1"] = spendTx("cb1", 0, pubkey, 100)
	require.NoError(t, m.AddTx("spend1"))
	require.Equal(t, []string{"spend1"}, m.GetPending())
}

func TestAddTxRejectsAlreadySpentOutpoint(t *testing.T) {
	st := newFakeStore()
	pubkey := "aa"
	st.objects["genesis"] = block(nil)
	st.heights["genesis"] = 0
	st.utxos["genesis"] = map[string]int64{}
	st.chaintip = "genesis"
	st.hasChaintip = true

	st.objects["cb1"] = coinbaseTx(1, pubkey, 100)
	// cb1's output is not present in genesis's UTXO snapshot: already spent.

	m := New(st)
	require.NoError(t, m.Init())

	st.objects["spend1"] = spendTx("cb1", 0, pubkey, 100)
	err := m.AddTx("spend1")
	require.Error(t, err)
	require.Empty(t, m.GetPending())
}

func TestHandleChaintipChangeFastPathCarriesOverPending(t *testing.T) {
	st := newFakeStore()
	pubkey := "aa"

	st.objects["genesis"] = block(nil)
	st.heights["genesis"] = 0
	st.utxos["genesis"] = map[string]int64{}
	st.chaintip = "genesis"
	st.hasChaintip = true

	st.objects["cb1"] = coinbaseTx(1, pubkey, 100)
	st.utxos["genesis"]["cb1_"+pubkey+"_0"] = 100

	m := New(st)
	require.NoError(t, m.Init())

	st.objects["spend1"] = spendTx("cb1", 0, pubkey, 100)
	require.NoError(t, m.AddTx("spend1"))

	genesis := "genesis"
	st.objects["blockA"] = block(&genesis, "cb2")
	st.heights["blockA"] = 1
	cb2Pub := "bb"
	st.objects["cb2"] = coinbaseTx(2, cb2Pub, 50)
	st.utxos["blockA"] = map[string]int64{
		"cb1_" + pubkey + "_0": 100,
		"cb2_" + cb2Pub + "_0": 50,
	}
	st.chaintip = "blockA"

	require.NoError(t, m.HandleChaintipChange())
	require.Equal(t, []string{"spend1"}, m.GetPending())
}

func TestHandleChaintipChangeReorgCarriesNonChainTxIntoPending(t *testing.T) {
	st := newFakeStore()
	pubkeyA := "aa"
	pubkeyB := "bb"
	pubkeyC := "cc"

	// genesis -> common1 (coinbase cbC1 shared by both branches) -> forks:
	//   branch A: a2 spends cbC1's output.
	//   branch B: b2 -> b3, neither of which touches cbC1, and ends up taller.
	st.objects["genesis"] = block(nil)
	st.heights["genesis"] = 0
	st.utxos["genesis"] = map[string]int64{}

	st.objects["cbC1"] = coinbaseTx(1, pubkeyC, 100)
	genesis := "genesis"
	st.objects["common1"] = block(&genesis, "cbC1")
	st.heights["common1"] = 1
	st.utxos["common1"] = map[string]int64{"cbC1_" + pubkeyC + "_0": 100}

	st.objects["sideTx"] = spendTx("cbC1", 0, pubkeyA, 100)
	common1 := "common1"
	st.objects["a2"] = block(&common1, "sideTx")
	st.heights["a2"] = 2
	st.utxos["a2"] = map[string]int64{"sideTx_" + pubkeyA + "_0": 100}

	st.chaintip = "a2"
	st.hasChaintip = true

	m := New(st)
	require.NoError(t, m.Init())
	require.Empty(t, m.GetPending())

	st.objects["cbB2"] = coinbaseTx(2, pubkeyB, 50)
	st.objects["b2"] = block(&common1, "cbB2")
	st.heights["b2"] = 2
	st.utxos["b2"] = map[string]int64{
		"cbC1_" + pubkeyC + "_0": 100,
		"cbB2_" + pubkeyB + "_0": 50,
	}

	st.objects["cbB3"] = coinbaseTx(3, pubkeyB, 50)
	b2 := "b2"
	st.objects["b3"] = block(&b2, "cbB3")
	st.heights["b3"] = 3
	st.utxos["b3"] = map[string]int64{
		"cbC1_" + pubkeyC + "_0": 100,
		"cbB2_" + pubkeyB + "_0": 50,
		"cbB3_" + pubkeyB + "_0": 50,
	}

	st.chaintip = "b3"

	require.NoError(t, m.HandleChaintipChange())
	require.Equal(t, []string{"sideTx"}, m.GetPending())
}
