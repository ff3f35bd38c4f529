// Package kerrors defines the error taxonomy of section 7: ParseError,
// SchemaError, ProtocolError (with InvalidTx and UtxoError as distinguished
// sub-kinds), and TransportError. Every kind renders to the single-line
// message carried in a wire {"type":"error","error":"<message>"} reply.
package kerrors

import "fmt"

// ParseError means the framed bytes were not valid JSON or not valid UTF-8.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("could not parse message: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError means the JSON was well-formed but violated an expected shape.
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// protocolError marks every error kind that is reported to the peer as a
// single {"type":"error"} reply and otherwise only closes the originating
// message's task, never the whole connection (save for handshake failures,
// which the connection layer handles specially).
type protocolError interface {
	error
	protocolErrorMessage() string
}

// ProtocolError is a well-shaped message rejected for a semantic reason:
// bad handshake, second hello, invalid block/tx, or a resolution timeout.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string               { return e.Message }
func (e *ProtocolError) protocolErrorMessage() string { return e.Message }

// InvalidTx is the transaction-level subclass of ProtocolError raised by
// the TxValidator (section 4.4).
type InvalidTx struct {
	Message string
}

func (e *InvalidTx) Error() string               { return e.Message }
func (e *InvalidTx) protocolErrorMessage() string { return e.Message }

// UtxoError is raised by the UtxoEngine (section 4.5) and surfaces as a
// protocol error once it escapes block validation.
type UtxoError struct {
	Message string
}

func (e *UtxoError) Error() string               { return e.Message }
func (e *UtxoError) protocolErrorMessage() string { return e.Message }

// TransportError means the connection closed, reset, or hit EOF mid-message.
// It closes the connection silently; it is never turned into an error reply.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AsReplyMessage renders any ParseError/SchemaError/ProtocolError/InvalidTx/
// UtxoError into the string that goes in a wire error reply's "error" field.
// It returns (message, true) when err belongs to that family.
func AsReplyMessage(err error) (string, bool) {
	switch e := err.(type) {
	case *ParseError:
		return e.Error(), true
	case *SchemaError:
		return e.Error(), true
	case protocolError:
		return e.protocolErrorMessage(), true
	default:
		return "", false
	}
}
