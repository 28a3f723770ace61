package jsorb

import (
	"fmt"
)

// RequestParser extracts the params (or, client side, result) subtree of a
// decoded JSON-RPC message, rebuilding any reference structure the wire
// encoding flattened away. The parser variant must agree bridge-wide with
// the serializer's output mode: fixup requests pair with fixup responses,
// flat with flat.
type RequestParser interface {
	// ParseParams returns the argument array of a request.
	ParseParams(req map[string]any) ([]any, error)

	// ParseMember returns the named member of a message with references
	// materialized; clients use it for the result member.
	ParseMember(msg map[string]any, key string) (any, error)
}

// nestedRequestParser reads params in place and applies the request's
// optional fixups array by aliasing the source subtree into each target
// position. The aliased (shared) references are what the unmarshal state
// later turns back into shared instances.
type nestedRequestParser struct{}

// NewNestedRequestParser returns the parser for the default (fixup based)
// wire mode.
func NewNestedRequestParser() RequestParser {
	return nestedRequestParser{}
}

func (nestedRequestParser) applyFixups(msg map[string]any) error {
	raw, present := msg[fixupsField]
	if !present {
		return nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return errFixupMalformed
	}

	for _, entry := range arr {
		f, err := fixupFromWire(entry)
		if err != nil {
			return err
		}

		if err := applyFixup(msg, f); err != nil {
			return err
		}
	}

	return nil
}

func (p nestedRequestParser) ParseParams(req map[string]any) ([]any, error) {
	if err := p.applyFixups(req); err != nil {
		return nil, err
	}

	raw, present := req[paramField]
	if !present || raw == nil {
		return nil, nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("params is not an array")
	}

	return arr, nil
}

func (p nestedRequestParser) ParseMember(msg map[string]any, key string) (any, error) {
	if err := p.applyFixups(msg); err != nil {
		return nil, err
	}

	return msg[key], nil
}

// flatRequestParser reads messages in flat mode, where complex objects sit
// under top-level "_n" keys and values referring to them are the string
// token. Materialization walks the tree depth first with a visited set so
// an already materialized object (or a cycle) is not re-entered.
type flatRequestParser struct{}

// NewFlatRequestParser returns the parser for flat wire mode.
func NewFlatRequestParser() RequestParser {
	return flatRequestParser{}
}

// materialize resolves token values against the top-level message.
func (p flatRequestParser) materialize(v any, root map[string]any, seen map[string]any) (any, error) {
	switch c := v.(type) {
	case string:
		if !isFlatIndex(c) {
			return c, nil
		}

		if obj, done := seen[c]; done {
			return obj, nil
		}

		target, present := root[c]
		if !present {
			return nil, fmt.Errorf("%w: missing flat object %q", errFixupMalformed, c)
		}

		// Mark before descending: the object may reference itself.
		seen[c] = target

		materialized, err := p.materialize(target, root, seen)
		if err != nil {
			return nil, err
		}

		seen[c] = materialized

		return materialized, nil
	case map[string]any:
		for name, member := range c {
			mv, err := p.materialize(member, root, seen)
			if err != nil {
				return nil, err
			}

			c[name] = mv
		}

		return c, nil
	case []any:
		for i, member := range c {
			mv, err := p.materialize(member, root, seen)
			if err != nil {
				return nil, err
			}

			c[i] = mv
		}

		return c, nil
	default:
		return v, nil
	}
}

func (p flatRequestParser) ParseParams(req map[string]any) ([]any, error) {
	raw, present := req[paramField]
	if !present || raw == nil {
		return nil, nil
	}

	seen := make(map[string]any)

	v, err := p.materialize(raw, req, seen)
	if err != nil {
		return nil, err
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("params is not an array")
	}

	return arr, nil
}

func (p flatRequestParser) ParseMember(msg map[string]any, key string) (any, error) {
	raw, present := msg[key]
	if !present {
		return nil, nil
	}

	return p.materialize(raw, msg, make(map[string]any))
}
