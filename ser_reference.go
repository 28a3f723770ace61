package jsorb

import (
	"reflect"
)

// JSONRPCType values for reference handles.
const (
	rpcTypeReference         = "Reference"
	rpcTypeCallableReference = "CallableReference"
)

// referenceSerializer marshals instances of registered reference types as
// opaque handles instead of property extracted beans:
//
//	{"JSONRPCType":"CallableReference","javaClass":"pkg.Foo","objectID":42}
//
// It is installed by [Bridge.EnableReferences] at the front of the routing
// order, which is what lets it shadow the bean serializer for registered
// types. Unmarshalling resolves the objectID against the bridge's live
// reference store.
type referenceSerializer struct {
	bridge *Bridge
}

func (referenceSerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (referenceSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (r *referenceSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, r.JSONKinds()) {
		return false
	}

	if src == nil {
		return false
	}

	return r.bridge.IsReference(src) || r.bridge.IsCallableReference(src)
}

func (r *referenceSerializer) Marshal(state *SerializerState, _ *ProcessedObject, v any) (any, error) {
	typ := reflect.TypeOf(v)

	rpcType := rpcTypeReference
	if r.bridge.IsCallableReference(typ) {
		rpcType = rpcTypeCallableReference
	}

	id, err := r.bridge.addReference(v)
	if err != nil {
		return nil, marshalErr("%v", err)
	}

	return map[string]any{
		rpcTypeField:   rpcType,
		classHintField: state.Serializer().Registry().NameFor(typ),
		objectIDField:  id,
	}, nil
}

// handleID extracts the objectID of a reference handle, or fails when j is
// not a handle.
func handleID(j any) (int64, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return 0, unmarshalErr("%v is not a reference", KindOf(j))
	}

	switch obj[rpcTypeField] {
	case rpcTypeReference, rpcTypeCallableReference:
	default:
		return 0, unmarshalErr("object is not a reference handle")
	}

	id, present := obj[objectIDField]
	if !present {
		return 0, unmarshalErr("reference missing %q member", objectIDField)
	}

	n, err := toInt(id)
	if err != nil {
		return 0, unmarshalErr("reference %q member is not a number", objectIDField)
	}

	return int64(n), nil
}

func (r *referenceSerializer) TryUnmarshal(_ *SerializerState, _ reflect.Type, j any) (ObjectMatch, error) {
	id, err := handleID(j)
	if err != nil {
		return MatchOkay, err
	}

	if _, ok := r.bridge.GetReference(id); !ok {
		return MatchOkay, unmarshalErr("no such reference %d", id)
	}

	return MatchOkay, nil
}

func (r *referenceSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	id, err := handleID(j)
	if err != nil {
		return nil, err
	}

	v, ok := r.bridge.GetReference(id)
	if !ok {
		return nil, unmarshalErr("no such reference %d", id)
	}

	if target != nil && target.Kind() != reflect.Interface && !reflect.TypeOf(v).AssignableTo(target) {
		return nil, unmarshalErr("reference %d is %T, not %s", id, v, target)
	}

	return v, nil
}
