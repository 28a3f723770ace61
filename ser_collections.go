package jsorb

import (
	"fmt"
	"reflect"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Wrapper member names for the typed container forms.
const (
	listField = "list"
	setField  = "set"
	mapField  = "map"
)

// mapSerializer maps Go maps to the wrapped wire form
//
//	{"javaClass":"java.util.HashMap","map":{...}}
//
// Map keys must be strings. On marshal a non-string key is coerced through
// its textual representation (with a debug log trail); on unmarshal a
// non-string key type is rejected.
type mapSerializer struct{}

func (mapSerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (mapSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (m mapSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, m.JSONKinds()) {
		return false
	}

	return src == nil || src.Kind() == reflect.Map
}

func (mapSerializer) Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error) {
	rv := reflect.ValueOf(v)

	payload := make(map[string]any, rv.Len())
	wrapper := map[string]any{mapField: payload}

	if state.Serializer().MarshalClassHints() {
		// A map type registered under its own wire name keeps it; every
		// other map carries the generic map name.
		hint := state.Serializer().Registry().NameFor(rv.Type())
		if t, ok := state.Serializer().Registry().TypeFor(hint); !ok || t != rv.Type() {
			hint = classNameMap
		}

		wrapper[classHintField] = hint
	}

	state.setSerialized(po, wrapper)
	state.enterPayload(po, mapField, payload)
	defer state.exitPayload()

	// Deterministic iteration keeps fixup generation stable.
	keys := rv.MapKeys()
	names := make([]string, len(keys))
	byName := make(map[string]reflect.Value, len(keys))

	for i, k := range keys {
		name, ok := k.Interface().(string)
		if !ok {
			name = fmt.Sprint(k.Interface())
			state.Serializer().log.Debug().Str("key", name).Msg("coercing non-string map key")
		}

		names[i] = name
		byName[name] = k
	}

	sort.Strings(names)

	for _, name := range names {
		val, err := state.Serializer().MarshalValue(state, rv.MapIndex(byName[name]).Interface(), Field(name))
		if err != nil {
			return nil, err
		}

		payload[name] = val
	}

	return wrapper, nil
}

// mapPayload unwraps the "map" member if present, else treats the whole
// object as the payload (bare objects from hintless clients).
func mapPayload(j any) (map[string]any, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return nil, unmarshalErr("%v is not a map", KindOf(j))
	}

	if inner, ok := obj[mapField].(map[string]any); ok {
		return inner, nil
	}

	return obj, nil
}

func (m mapSerializer) TryUnmarshal(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	payload, err := mapPayload(j)
	if err != nil {
		return MatchOkay, err
	}

	var elemType reflect.Type

	if target != nil && target.Kind() == reflect.Map {
		if target.Key().Kind() != reflect.String {
			return MatchOkay, unmarshalErr("map keys must be strings, not %s", target.Key())
		}

		elemType = target.Elem()
	}

	match := MatchOkay

	for _, v := range payload {
		em, err := state.Serializer().TryUnmarshalValue(state, elemType, v)
		if err != nil {
			return MatchOkay, err
		}

		match = match.Max(em)
	}

	return match, nil
}

func (m mapSerializer) Unmarshal(state *SerializerState, target reflect.Type, j any) (any, error) {
	payload, err := mapPayload(j)
	if err != nil {
		return nil, err
	}

	if target == nil {
		target = reflect.TypeOf(map[string]any(nil))
	}

	if target.Key().Kind() != reflect.String {
		return nil, unmarshalErr("map keys must be strings, not %s", target.Key())
	}

	out := reflect.MakeMapWithSize(target, len(payload))
	state.registerRestored(j, out.Interface())

	elemType := target.Elem()

	for k, v := range payload {
		ev, err := state.Serializer().UnmarshalValue(state, elemType, v)
		if err != nil {
			return nil, unmarshalErr("member %q: %v", k, err)
		}

		key := reflect.ValueOf(k).Convert(target.Key())

		if ev == nil {
			out.SetMapIndex(key, reflect.Zero(elemType))
			continue
		}

		out.SetMapIndex(key, reflect.ValueOf(ev))
	}

	return out.Interface(), nil
}

// setSerializer maps [mapset.Set] values to the wrapped wire form
//
//	{"javaClass":"java.util.HashSet","set":[...]}
type setSerializer struct{}

var setType = reflect.TypeOf((*mapset.Set[any])(nil)).Elem()

func (setSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{setType}
}

func (setSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (s setSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if kind != KindObject && kind != KindAny {
		return false
	}

	if src == nil {
		return false
	}

	return src == setType || src.Implements(setType)
}

func (setSerializer) Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error) {
	set, ok := v.(mapset.Set[any])
	if !ok {
		return nil, marshalErr("%T is not a set", v)
	}

	elems := set.ToSlice()
	payload := make([]any, len(elems))
	wrapper := map[string]any{setField: payload}

	if state.Serializer().MarshalClassHints() {
		wrapper[classHintField] = classNameSet
	}

	state.setSerialized(po, wrapper)
	state.enterPayload(po, setField, payload)
	defer state.exitPayload()

	for i, e := range elems {
		ev, err := state.Serializer().MarshalValue(state, e, Index(i))
		if err != nil {
			return nil, err
		}

		payload[i] = ev
	}

	return wrapper, nil
}

func setPayload(j any) ([]any, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return nil, unmarshalErr("%v is not a set", KindOf(j))
	}

	inner, ok := obj[setField].([]any)
	if !ok {
		return nil, unmarshalErr("set missing %q member", setField)
	}

	return inner, nil
}

func (s setSerializer) TryUnmarshal(state *SerializerState, _ reflect.Type, j any) (ObjectMatch, error) {
	payload, err := setPayload(j)
	if err != nil {
		return MatchOkay, err
	}

	match := MatchOkay

	for _, e := range payload {
		em, err := state.Serializer().TryUnmarshalValue(state, nil, e)
		if err != nil {
			return MatchOkay, err
		}

		match = match.Max(em)
	}

	return match, nil
}

func (s setSerializer) Unmarshal(state *SerializerState, _ reflect.Type, j any) (any, error) {
	payload, err := setPayload(j)
	if err != nil {
		return nil, err
	}

	out := mapset.NewSet[any]()
	state.registerRestored(j, out)

	for i, e := range payload {
		ev, err := state.Serializer().UnmarshalValue(state, nil, e)
		if err != nil {
			return nil, unmarshalErr("element %d: %v", i, err)
		}

		out.Add(ev)
	}

	return out, nil
}

// listSerializer consumes the wrapped list form
//
//	{"javaClass":"java.util.ArrayList","list":[...]}
//
// into slice targets. Go slices marshal through the array serializer, so
// this serializer only exists on the unmarshal path.
type listSerializer struct{}

func (listSerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (listSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (l listSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if kind != KindObject {
		return false
	}

	return src != nil && src.Kind() == reflect.Slice
}

func (listSerializer) Marshal(_ *SerializerState, _ *ProcessedObject, v any) (any, error) {
	return nil, marshalErr("lists marshal as arrays, not %T", v)
}

func listPayload(j any) ([]any, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return nil, unmarshalErr("%v is not a list", KindOf(j))
	}

	inner, ok := obj[listField].([]any)
	if !ok {
		return nil, unmarshalErr("list missing %q member", listField)
	}

	return inner, nil
}

func (l listSerializer) TryUnmarshal(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	payload, err := listPayload(j)
	if err != nil {
		return MatchOkay, err
	}

	return arraySerializer{}.TryUnmarshal(state, target, payload)
}

func (l listSerializer) Unmarshal(state *SerializerState, target reflect.Type, j any) (any, error) {
	payload, err := listPayload(j)
	if err != nil {
		return nil, err
	}

	v, err := arraySerializer{}.Unmarshal(state, target, payload)
	if err != nil {
		return nil, err
	}

	// The wrapper object, not the payload array, is what request fixups
	// may alias.
	state.registerRestored(j, v)

	return v, nil
}
