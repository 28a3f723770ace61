// Package jsorb implements a bidirectional JSON-RPC object bridge between a
// Go host process and remote JavaScript (or other) clients.
//
// # Overview
//
// A [Bridge] exports Go objects and types under registered names. Incoming
// JSON-RPC requests are dispatched to methods on those objects: the bridge
// parses the encoded method name, selects the best matching overload by
// trial-unmarshalling the arguments, injects local (context supplied)
// arguments, invokes the method, and marshals the return value back into a
// JSON-RPC result object.
//
// The marshalling layer is an ordered registry of [Serializer] values that
// walk arbitrary object graphs. Shared subgraphs and cycles are detected
// through a per-call [SerializerState] and reconstructed on the peer either
// through fixup instructions (see [Fixup]) or, in flat mode, through string
// index tokens that point at objects hoisted to top-level response keys.
//
// Marshalled complex values carry a "javaClass" type hint naming their wire
// type; the vocabulary is kept compatible with the original JavaScript
// client (for example "java.util.HashMap" for a map). During unmarshalling
// these hints pass through a [ClassResolver] so a hostile peer cannot
// instantiate arbitrary types.
//
// # Basic Usage
//
//	bridge := jsorb.NewBridge()
//	bridge.RegisterObject("test", &TestService{})
//
//	raw := json.RawMessage(`{"method":"test.echo","id":1,"params":["hello"]}`)
//	result := bridge.Call(context.Background(), nil, raw)
//	out, _ := json.Marshal(result)
//	// {"id":1,"result":"hello"}
//
// The bridge is transport agnostic. HTTP framing, authentication and
// session persistence belong to the embedding server; the bridge only
// guarantees that every call returns a well formed JSON-RPC result object
// and never panics past the [Bridge.Call] boundary.
package jsorb

import (
	"bytes"
	"encoding/json"
	"io"
)

// Wire member names shared between the serializers, the request parsers and
// the result types.
const (
	classHintField = "javaClass"
	rpcTypeField   = "JSONRPCType"
	objectIDField  = "objectID"

	methodField = "method"
	idField     = "id"
	paramField  = "params"
	resultField = "result"
	errorField  = "error"
	fixupsField = "fixups"
)

// Wire type names for the generic container shapes. The vocabulary follows
// the original JavaScript client so both ends agree on hints.
const (
	classNameDate      = "java.util.Date"
	classNameTimestamp = "java.sql.Timestamp"
	classNameSQLDate   = "java.sql.Date"
	classNameSQLTime   = "java.sql.Time"
	classNameMap       = "java.util.HashMap"
	classNameList      = "java.util.ArrayList"
	classNameSet       = "java.util.HashSet"
)

// Marshal defines the function used for marshalling Go values into JSON
// []byte. By default it uses [encoding/json.Marshal]. Applications can
// replace this variable at startup with a different marshalling function,
// for example from a third-party JSON library.
var Marshal = json.Marshal

// Unmarshal defines the function used for unmarshalling JSON []byte into Go
// values. By default it uses [encoding/json.Unmarshal]. Applications can
// replace this variable at startup.
var Unmarshal = json.Unmarshal

// decodeTree decodes raw JSON into the generic tree form the serializers
// operate on: map[string]any, []any, json.Number, string, bool and nil.
// Numbers are kept as [json.Number] so width-exact parsing happens in the
// number serializer, not here.
func decodeTree(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	// Trailing garbage after the value is a parse error too.
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}

	return v, nil
}
