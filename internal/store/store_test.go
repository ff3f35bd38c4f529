package store

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/paulsattlegger/kermapy/internal/canon"
	"github.com/paulsattlegger/kermapy/internal/config"
	"github.com/paulsattlegger/kermapy/internal/objects"
	"github.com/stretchr/testify/require"
)

func jsonNumber(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}

func canonicalizeForTest(obj map[string]interface{}) (string, error) {
	b, err := canon.Canonicalize(obj)
	if err != nil {
		return "", err
	}
	return canon.IDOfCanonicalBytes(b), nil
}

func openTestStore(t *testing.T) *ObjectStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir, config.EngineLevelDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureGenesisIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureGenesis())
	require.NoError(t, s.EnsureGenesis())

	require.True(t, s.Contains(objects.GenesisID()))
	tip, ok := s.GetChaintip()
	require.True(t, ok)
	require.Equal(t, objects.GenesisID(), tip)

	height, err := s.GetHeight(objects.GenesisID())
	require.NoError(t, err)
	require.Equal(t, int64(0), height)
}

func TestPutObjectRoundTrips(t *testing.T) {
	s := openTestStore(t)
	obj := map[string]interface{}{
		"type":   "transaction",
		"height": jsonNumber(1),
		"outputs": []interface{}{
			map[string]interface{}{
				"pubkey": "0000000000000000000000000000000000000000000000000000000000000000"[:64],
				"value":  jsonNumber(5),
			},
		},
	}
	id, err := s.PutObject(obj)
	require.NoError(t, err)
	require.True(t, s.Contains(id))

	got, err := s.GetObject(id)
	require.NoError(t, err)
	require.Equal(t, "transaction", got["type"])
}

func TestPutObjectFiresWaiter(t *testing.T) {
	s := openTestStore(t)
	obj := map[string]interface{}{"type": "transaction", "height": jsonNumber(2), "outputs": []interface{}{}}
	canonical, err := canonicalizeForTest(obj)
	require.NoError(t, err)

	ch, cancel := s.EventFor(canonical)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Error("timed out waiting for event")
		}
		close(done)
	}()

	_, err = s.PutObject(obj)
	require.NoError(t, err)

	<-done
}

func TestPutBlockStoresUtxoAndHeight(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureGenesis())

	block := map[string]interface{}{
		"type":    "block",
		"txids":   []interface{}{},
		"nonce":   "0000000000000000000000000000000000000000000000000000000000000001"[:64],
		"previd":  objects.GenesisID(),
		"created": jsonNumber(objects.GenesisCreated + 1),
		"T":       objects.Target,
	}
	utxo := map[string]int64{"abc_def_0": 100}
	id, err := s.PutBlock(block, utxo, 1, true)
	require.NoError(t, err)

	height, err := s.GetHeight(id)
	require.NoError(t, err)
	require.Equal(t, int64(1), height)

	got, err := s.GetUtxo(id)
	require.NoError(t, err)
	require.Equal(t, utxo, got)

	tip, ok := s.GetChaintip()
	require.True(t, ok)
	require.Equal(t, id, tip)
}
