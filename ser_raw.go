package jsorb

import (
	"encoding/json"
	"reflect"
	"sort"
)

// rawSerializer passes already-JSON values through the engine:
// [json.RawMessage] plus the decoded tree shapes map[string]any and []any.
// The subtree is re-entered member by member so that duplicates and cycles
// inside it still register with the state, but no container wrapper is
// added; raw JSON stays shaped as the caller built it.
type rawSerializer struct{}

var (
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	mapAnyType     = reflect.TypeOf(map[string]any(nil))
	sliceAnyType   = reflect.TypeOf([]any(nil))
)

func (rawSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{rawMessageType, mapAnyType, sliceAnyType}
}

func (rawSerializer) JSONKinds() []Kind {
	return []Kind{KindObject, KindArray, KindString, KindNumber, KindBool, KindNull}
}

func (r rawSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if src == rawMessageType {
		return true
	}

	// The tree shapes are claimed on the marshal path only; on unmarshal
	// they belong to the map and array serializers so typed wrappers are
	// honored.
	return kind == KindAny && (src == mapAnyType || src == sliceAnyType)
}

func (rawSerializer) Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error) {
	tree := v

	if raw, ok := v.(json.RawMessage); ok {
		decoded, err := decodeTree(raw)
		if err != nil {
			return nil, marshalErr("invalid raw JSON: %v", err)
		}

		tree = decoded
	}

	return reenter(state, po, tree)
}

// reenter walks a decoded JSON tree, re-marshalling every member through
// the façade.
func reenter(state *SerializerState, po *ProcessedObject, tree any) (any, error) {
	switch t := tree.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		state.setSerialized(po, out)

		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			mv, err := state.Serializer().MarshalValue(state, t[name], Field(name))
			if err != nil {
				return nil, err
			}

			out[name] = mv
		}

		return out, nil
	case []any:
		out := make([]any, len(t))
		state.setSerialized(po, out)

		for i, e := range t {
			ev, err := state.Serializer().MarshalValue(state, e, Index(i))
			if err != nil {
				return nil, err
			}

			out[i] = ev
		}

		return out, nil
	default:
		return tree, nil
	}
}

func (rawSerializer) TryUnmarshal(_ *SerializerState, _ reflect.Type, _ any) (ObjectMatch, error) {
	// Anything re-encodes into raw JSON.
	return MatchOkay, nil
}

func (rawSerializer) Unmarshal(_ *SerializerState, _ reflect.Type, j any) (any, error) {
	buf, err := Marshal(j)
	if err != nil {
		return nil, unmarshalErr("%v", err)
	}

	return json.RawMessage(buf), nil
}
