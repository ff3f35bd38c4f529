package protocol

import (
	"bytes"
	"encoding/json"
)

// toGenericMap marshals v through its JSON tags and re-decodes it with
// json.Number preserved, producing the map[string]interface{}/[]interface{}
// shape internal/canon.Canonicalize expects.
func toGenericMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
