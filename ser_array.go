package jsorb

import (
	"reflect"
)

// arraySerializer maps Go slices and arrays to bare JSON arrays. The wire
// form is registered in the state before elements are populated so a back
// reference to the array from inside itself resolves.
type arraySerializer struct{}

func (arraySerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (arraySerializer) JSONKinds() []Kind {
	return []Kind{KindArray}
}

func (a arraySerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, a.JSONKinds()) {
		return false
	}

	if src == nil {
		return true
	}

	switch src.Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}

	return false
}

func (arraySerializer) Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error) {
	rv := reflect.ValueOf(v)

	out := make([]any, rv.Len())
	state.setSerialized(po, out)

	for i := 0; i < rv.Len(); i++ {
		elem, err := state.Serializer().MarshalValue(state, rv.Index(i).Interface(), Index(i))
		if err != nil {
			return nil, err
		}

		out[i] = elem
	}

	return out, nil
}

func (a arraySerializer) TryUnmarshal(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	arr, ok := j.([]any)
	if !ok {
		return MatchOkay, unmarshalErr("%v is not an array", KindOf(j))
	}

	var elemType reflect.Type
	if target != nil && (target.Kind() == reflect.Slice || target.Kind() == reflect.Array) {
		elemType = target.Elem()
	}

	match := MatchOkay

	for _, e := range arr {
		m, err := state.Serializer().TryUnmarshalValue(state, elemType, e)
		if err != nil {
			return MatchOkay, err
		}

		match = match.Max(m)
	}

	return match, nil
}

func (a arraySerializer) Unmarshal(state *SerializerState, target reflect.Type, j any) (any, error) {
	arr, ok := j.([]any)
	if !ok {
		return nil, unmarshalErr("%v is not an array", KindOf(j))
	}

	if target == nil {
		target = reflect.TypeOf([]any(nil))
	}

	elemType := target.Elem()

	var out reflect.Value

	switch target.Kind() {
	case reflect.Slice:
		out = reflect.MakeSlice(target, len(arr), len(arr))
	case reflect.Array:
		if target.Len() != len(arr) {
			return nil, unmarshalErr("array length %d does not match %s", len(arr), target)
		}

		out = reflect.New(target).Elem()
	default:
		return nil, unmarshalErr("%s is not an array type", target)
	}

	// Register before filling: a fixed-up request tree may point an
	// element back at the array itself.
	if target.Kind() == reflect.Slice {
		state.registerRestored(j, out.Interface())
	}

	for i, e := range arr {
		ev, err := state.Serializer().UnmarshalValue(state, elemType, e)
		if err != nil {
			return nil, unmarshalErr("element %d: %v", i, err)
		}

		if ev == nil {
			continue
		}

		out.Index(i).Set(reflect.ValueOf(ev))
	}

	return out.Interface(), nil
}
