// Package schema implements the SchemaValidator of section 4.3: a fixed
// catalog of shapes, each enumerating required/optional fields, patterns,
// length and numeric domains, and additionalProperties=false where
// specified. validate(value, shape) fails with a SchemaError{path,message}
// on the first violation, mirroring the Python reference's hand-rolled
// schemas.py dictionaries (no JSON-Schema library is grounded anywhere in
// the retrieval pack, so this is a deliberate, scoped reimplementation;
// see DESIGN.md).
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/paulsattlegger/kermapy/internal/kerrors"
)

// Kind is the JSON value kind a Shape expects.
type Kind int

const (
	KindObject Kind = iota
	KindString
	KindInteger
	KindArray
	KindAny
)

// Shape declaratively describes one accepted JSON shape.
type Shape struct {
	Name string
	Kind Kind

	// Object kinds.
	Fields               map[string]*Shape
	Required             []string
	AdditionalProperties bool

	// String kinds.
	Pattern   *regexp.Regexp
	MinLength int
	MaxLength int
	HasLength bool
	Enum      []string

	// Integer kinds.
	Min    *int64
	HasMin bool

	// Array kinds.
	Items *Shape

	// OneOf is a tagged union of candidate shapes (e.g. object:
	// Transaction | Coinbase | Block); the first shape that validates
	// without error wins.
	OneOf []*Shape

	// Nullable allows JSON null in addition to the shape's normal kind,
	// used for Block.previd (hex64 or null, section 3).
	Nullable bool
}

func path(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

// Validate checks v against shape, returning the first violation found.
func Validate(v interface{}, shape *Shape) *kerrors.SchemaError {
	return validateAt("$", v, shape)
}

func validateAt(at string, v interface{}, shape *Shape) *kerrors.SchemaError {
	if v == nil {
		if shape.Nullable {
			return nil
		}
		return &kerrors.SchemaError{Path: at, Message: "value must not be null"}
	}
	if len(shape.OneOf) > 0 {
		var lastErr *kerrors.SchemaError
		for _, candidate := range shape.OneOf {
			if err := validateAt(at, v, candidate); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr != nil {
			return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("does not match any known shape (last: %s)", lastErr.Message)}
		}
		return &kerrors.SchemaError{Path: at, Message: "does not match any known shape"}
	}

	switch shape.Kind {
	case KindObject:
		return validateObject(at, v, shape)
	case KindString:
		return validateString(at, v, shape)
	case KindInteger:
		return validateInteger(at, v, shape)
	case KindArray:
		return validateArray(at, v, shape)
	case KindAny:
		return nil
	default:
		return &kerrors.SchemaError{Path: at, Message: "unknown shape kind"}
	}
}

func validateObject(at string, v interface{}, shape *Shape) *kerrors.SchemaError {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return &kerrors.SchemaError{Path: at, Message: "expected an object"}
	}
	for _, req := range shape.Required {
		if _, present := obj[req]; !present {
			return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("mandatory key %q not found", req)}
		}
	}
	for key, val := range obj {
		fieldShape, known := shape.Fields[key]
		if !known {
			if !shape.AdditionalProperties {
				return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("unexpected key %q", key)}
			}
			continue
		}
		if err := validateAt(path(at, key), val, fieldShape); err != nil {
			return err
		}
	}
	return nil
}

func validateString(at string, v interface{}, shape *Shape) *kerrors.SchemaError {
	s, ok := v.(string)
	if !ok {
		return &kerrors.SchemaError{Path: at, Message: "expected a string"}
	}
	if shape.HasLength {
		if len(s) < shape.MinLength || (shape.MaxLength > 0 && len(s) > shape.MaxLength) {
			return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("length %d out of bounds [%d,%d]", len(s), shape.MinLength, shape.MaxLength)}
		}
	}
	if shape.Pattern != nil && !shape.Pattern.MatchString(s) {
		return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("value %q does not match required pattern", s)}
	}
	if len(shape.Enum) > 0 {
		found := false
		for _, e := range shape.Enum {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("value %q not among allowed values %v", s, shape.Enum)}
		}
	}
	return nil
}

func validateInteger(at string, v interface{}, shape *Shape) *kerrors.SchemaError {
	n, ok := v.(json.Number)
	if !ok {
		return &kerrors.SchemaError{Path: at, Message: "expected an integer"}
	}
	i, err := n.Int64()
	if err != nil {
		return &kerrors.SchemaError{Path: at, Message: "expected an integer"}
	}
	if shape.HasMin && i < *shape.Min {
		return &kerrors.SchemaError{Path: at, Message: fmt.Sprintf("value %d below minimum %d", i, *shape.Min)}
	}
	return nil
}

func validateArray(at string, v interface{}, shape *Shape) *kerrors.SchemaError {
	arr, ok := v.([]interface{})
	if !ok {
		return &kerrors.SchemaError{Path: at, Message: "expected an array"}
	}
	if shape.Items != nil {
		for i, item := range arr {
			if err := validateAt(fmt.Sprintf("%s[%d]", at, i), item, shape.Items); err != nil {
				return err
			}
		}
	}
	return nil
}

func minInt(n int64) *int64 { return &n }
