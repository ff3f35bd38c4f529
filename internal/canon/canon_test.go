package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	v, err := Decode([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)

	out, err := Canonicalize(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(out))
}

func TestCanonicalizeNoWhitespace(t *testing.T) {
	v, err := Decode([]byte(`{"type": "hello", "version" : "0.8.0"}`))
	require.NoError(t, err)

	out, err := Canonicalize(v)
	require.NoError(t, err)
	require.Equal(t, `{"type":"hello","version":"0.8.0"}`, string(out))
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	original := `{"created":1624219079,"miner":"dionyziz","note":"x","nonce":"00","previd":null,"T":"00","txids":[],"type":"block"}`
	v, err := Decode([]byte(original))
	require.NoError(t, err)

	out, err := Canonicalize(v)
	require.NoError(t, err)

	v2, err := Decode(out)
	require.NoError(t, err)
	out2, err := Canonicalize(v2)
	require.NoError(t, err)
	require.Equal(t, out, out2)
}

func TestCanonicalizeLargeIntegerPreserved(t *testing.T) {
	v, err := Decode([]byte(`{"value":50000000000000}`))
	require.NoError(t, err)
	out, err := Canonicalize(v)
	require.NoError(t, err)
	require.Equal(t, `{"value":50000000000000}`, string(out))
}

func TestCanonicalizeRejectsFractional(t *testing.T) {
	v, err := Decode([]byte(`{"value":1.5}`))
	require.NoError(t, err)
	_, err = Canonicalize(v)
	require.Error(t, err)
}

func TestIDIsStableHex64(t *testing.T) {
	v, err := Decode([]byte(`{"type":"getpeers"}`))
	require.NoError(t, err)
	id, err := ID(v)
	require.NoError(t, err)
	require.Len(t, id, 64)
}
