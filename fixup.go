package jsorb

import (
	"fmt"
)

// Fixup is a wire-side instruction that the value at Source must be
// duplicated into the position at Target. Fixups reconstruct shared
// subgraphs and cycles that a plain JSON tree cannot express.
//
// The wire encoding is an array of two path arrays, target first:
//
//	[["result","beanB","beanA"],["result"]]
type Fixup struct {
	Target Path
	Source Path
}

// MarshalJSON implements [json.Marshaler].
func (f Fixup) MarshalJSON() ([]byte, error) {
	return Marshal([]any{f.Target.Wire(), f.Source.Wire()})
}

// fixupFromWire decodes one entry of a request's fixups array.
func fixupFromWire(v any) (Fixup, error) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return Fixup{}, errFixupMalformed
	}

	target, err := pathFromWire(pair[0])
	if err != nil {
		return Fixup{}, err
	}

	source, err := pathFromWire(pair[1])
	if err != nil {
		return Fixup{}, err
	}

	return Fixup{Target: target, Source: source}, nil
}

// resolvePath walks root along path and returns the value at the end.
func resolvePath(root any, path Path) (any, error) {
	cur := root

	for _, e := range path {
		switch c := cur.(type) {
		case map[string]any:
			if e.IsIndex() {
				return nil, fmt.Errorf("%w: index into object at %q", errFixupMalformed, e)
			}

			v, ok := c[e.String()]
			if !ok {
				return nil, fmt.Errorf("%w: missing member %q", errFixupMalformed, e)
			}

			cur = v
		case []any:
			if !e.IsIndex() {
				return nil, fmt.Errorf("%w: member access on array at %q", errFixupMalformed, e)
			}

			if e.index < 0 || e.index >= len(c) {
				return nil, fmt.Errorf("%w: index %d out of range", errFixupMalformed, e.index)
			}

			cur = c[e.index]
		default:
			return nil, fmt.Errorf("%w: path descends into scalar at %q", errFixupMalformed, e)
		}
	}

	return cur, nil
}

// applyFixup copies (by reference) the subtree at f.Source into the
// position f.Target of root. The shared reference is what later lets the
// unmarshaller rebuild identity sharing.
func applyFixup(root any, f Fixup) error {
	if len(f.Target) == 0 {
		return fmt.Errorf("%w: empty target path", errFixupMalformed)
	}

	src, err := resolvePath(root, f.Source)
	if err != nil {
		return err
	}

	parent, err := resolvePath(root, f.Target[:len(f.Target)-1])
	if err != nil {
		return err
	}

	last := f.Target[len(f.Target)-1]

	switch p := parent.(type) {
	case map[string]any:
		if last.IsIndex() {
			return fmt.Errorf("%w: index into object at %q", errFixupMalformed, last)
		}

		p[last.String()] = src
	case []any:
		if !last.IsIndex() {
			return fmt.Errorf("%w: member access on array at %q", errFixupMalformed, last)
		}

		if last.index < 0 || last.index >= len(p) {
			return fmt.Errorf("%w: index %d out of range", errFixupMalformed, last.index)
		}

		p[last.index] = src
	default:
		return fmt.Errorf("%w: target parent is a scalar", errFixupMalformed)
	}

	return nil
}
