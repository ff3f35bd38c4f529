// Package canon implements the two pure operations of section 4.1:
// Canonicalize produces the canonical JSON encoding of section 3, and ID
// hashes that encoding with SHA-256 into the 64-char lowercase hex object
// id used everywhere else in kermapy.
//
// The canonical form sorts object keys lexicographically, emits no
// insignificant whitespace, represents every number as a bare base-10
// integer (the schema never admits fractional values), and keeps strings
// as literal UTF-8 except for the handful of characters JSON requires
// escaped. It is deliberately the same algorithm the Python reference
// vendors from org.webpki.json.Canonicalize.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// Decode parses data as a single JSON value, preserving integers exactly
// (via json.Number) instead of lossily widening them to float64.
func Decode(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("canon: trailing data after JSON value")
	}
	return v, nil
}

// Canonicalize produces the canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ID returns the 64-char lowercase hex SHA-256 digest of v's canonical
// encoding.
func ID(v interface{}) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return IDOfCanonicalBytes(b), nil
}

// IDOfCanonicalBytes hashes already-canonicalized bytes directly, useful
// when the caller has kept the canonical form around (e.g. the ObjectStore
// reading stored object bytes back off disk).
func IDOfCanonicalBytes(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:])
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, val)
	case float64:
		return encodeNumber(buf, json.Number(big.NewFloat(val).Text('f', -1)))
	case int:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case int64:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case uint64:
		buf.WriteString(fmt.Sprintf("%d", val))
		return nil
	case string:
		encodeString(buf, val)
		return nil
	case []interface{}:
		return encodeArray(buf, val)
	case map[string]interface{}:
		return encodeObject(buf, val)
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	bi, ok := new(big.Int).SetString(string(n), 10)
	if !ok {
		return fmt.Errorf("canon: non-integer number %q has no canonical representation", n)
	}
	buf.WriteString(bi.String())
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
