package jsorb

import (
	"encoding/json"
	"reflect"

	"github.com/rs/zerolog"
)

// Serializer converts between one category of in-memory values and its
// JSON wire form. Serializers are process wide, registered once on an
// [ObjectSerializer], and must be safe for concurrent use; all per-call
// bookkeeping lives in the [SerializerState] passed to every operation.
type Serializer interface {
	// SerializableTypes lists the in-memory types the serializer consumes
	// on marshal. Structural matchers (arrays, beans) return nil and rely
	// on CanSerialize instead.
	SerializableTypes() []reflect.Type

	// JSONKinds lists the wire shapes the serializer produces and
	// consumes.
	JSONKinds() []Kind

	// CanSerialize reports whether the serializer handles the pairing of
	// in-memory type and wire kind. Either side may be nil/KindAny when
	// unknown.
	CanSerialize(src reflect.Type, kind Kind) bool

	// Marshal produces the wire form of v. po is the state record for v;
	// composite serializers record their form on it before populating
	// children so back references resolve.
	Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error)

	// TryUnmarshal scores how well wire value j fits the target type
	// without building anything. Returning an error rejects the pairing
	// outright.
	TryUnmarshal(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error)

	// Unmarshal builds an in-memory value of the target type from wire
	// value j.
	Unmarshal(state *SerializerState, target reflect.Type, j any) (any, error)
}

// ObjectSerializer is the façade over the ordered serializer registry. It
// owns the routing policy (the first accepting serializer in routing order
// wins, newest registrations searched first), the class hint policy and the fixup
// policy, and creates the per-call [SerializerState] values.
type ObjectSerializer struct {
	// routing order: index 0 is consulted first. RegisterSerializer
	// prepends, so the reference serializer installed by
	// [Bridge.EnableReferences] shadows the bean serializer for
	// registered reference types.
	serializers []Serializer

	registry *TypeRegistry
	resolver *ClassResolver
	enums    *enumRegistry

	marshalClassHints bool
	fixupPolicy       FixupPolicy
	flatMode          bool

	log zerolog.Logger
}

func newObjectSerializer(registry *TypeRegistry, resolver *ClassResolver) *ObjectSerializer {
	os := &ObjectSerializer{
		registry: registry,
		resolver: resolver,
		enums:    newEnumRegistry(),
		log:      zerolog.Nop(),
	}

	// Registration runs from the structural fallback up to the most
	// specific matcher; RegisterSerializer prepends, so routing consults
	// them in the reverse of this sequence (raw first, bean last).
	os.RegisterSerializer(&beanSerializer{os: os})
	os.RegisterSerializer(&arraySerializer{})
	os.RegisterSerializer(&mapSerializer{})
	os.RegisterSerializer(&setSerializer{})
	os.RegisterSerializer(&listSerializer{})
	os.RegisterSerializer(&dateSerializer{})
	os.RegisterSerializer(&stringSerializer{})
	os.RegisterSerializer(&numberSerializer{})
	os.RegisterSerializer(&booleanSerializer{})
	os.RegisterSerializer(&enumSerializer{enums: os.enums})
	os.RegisterSerializer(&rawSerializer{})

	return os
}

// RegisterSerializer adds a serializer at the front of the routing order.
func (os *ObjectSerializer) RegisterSerializer(s Serializer) {
	os.serializers = append([]Serializer{s}, os.serializers...)
}

// SetMarshalClassHints controls whether marshalled complex values carry a
// "javaClass" member naming their source type.
func (os *ObjectSerializer) SetMarshalClassHints(on bool) {
	os.marshalClassHints = on
}

// MarshalClassHints reports the current hint policy.
func (os *ObjectSerializer) MarshalClassHints() bool {
	return os.marshalClassHints
}

// Registry returns the wire name registry used for hints.
func (os *ObjectSerializer) Registry() *TypeRegistry {
	return os.registry
}

// Resolver returns the class resolver gating hint resolution.
func (os *ObjectSerializer) Resolver() *ClassResolver {
	return os.resolver
}

// RegisterEnum binds a wire name to an enum-like set of named values of a
// single Go type. Marshalled values of that type appear as their name.
func (os *ObjectSerializer) RegisterEnum(wireName string, values map[string]any) error {
	return os.enums.register(os.registry, wireName, values)
}

// NewState creates the per-call scratchpad for one marshal or unmarshal
// pass.
func (os *ObjectSerializer) NewState() *SerializerState {
	return newSerializerState(os)
}

// routeMarshal returns the first serializer able to marshal a value of
// type t.
func (os *ObjectSerializer) routeMarshal(t reflect.Type) Serializer {
	for _, s := range os.serializers {
		if s.CanSerialize(t, KindAny) {
			return s
		}
	}

	return nil
}

// routeUnmarshal returns the first serializer accepting the pairing of
// target type and observed wire kind.
func (os *ObjectSerializer) routeUnmarshal(target reflect.Type, kind Kind) Serializer {
	for _, s := range os.serializers {
		if s.CanSerialize(target, kind) {
			return s
		}
	}

	return nil
}

// MarshalValue recursively produces the wire form of v at position ref,
// maintaining the state's identity tracking as it descends. This is the
// entry point concrete serializers re-enter for their children.
func (os *ObjectSerializer) MarshalValue(state *SerializerState, v any, ref PathElem) (any, error) {
	if v == nil {
		return nil, nil
	}

	// Typed nils marshal as null like untyped ones.
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		if rv.IsNil() {
			return nil, nil
		}
	}

	if repl, handled, err := state.checkValue(v, ref); handled || err != nil {
		return repl, err
	}

	marshalee := v

	ser := os.routeMarshal(reflect.TypeOf(v))
	if ser == nil {
		// Pointer wrapped scalars marshal as their pointee; identity
		// tracking stays on the pointer.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && !rv.IsNil() {
			marshalee = rv.Elem().Interface()
			ser = os.routeMarshal(reflect.TypeOf(marshalee))
		}

		if ser == nil {
			return nil, marshalErr("no serializer for %T", v)
		}
	}

	po := state.push(v, ref)
	defer state.pop()

	form, err := ser.Marshal(state, po, marshalee)
	if err != nil {
		return nil, err
	}

	if state.flat {
		if token, hoisted := state.hoist(po, form); hoisted {
			return token, nil
		}
	}

	if !po.haveForm {
		state.setSerialized(po, form)
	}

	return form, nil
}

// Marshal runs a complete marshal pass over v using a fresh state and
// returns the wire tree together with the state for result shaping.
func (os *ObjectSerializer) Marshal(v any, root PathElem) (any, *SerializerState, error) {
	state := os.NewState()

	form, err := os.MarshalValue(state, v, root)
	if err != nil {
		return nil, nil, err
	}

	return form, state, nil
}

// hintedType extracts and resolves the "javaClass" member of a wire
// object, if any. A present but denied hint is an error; absence is not.
func (os *ObjectSerializer) hintedType(j any) (reflect.Type, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return nil, nil
	}

	// Reference handles are resolved by object ID, not by type; their
	// javaClass member is informational.
	if _, isRef := obj[rpcTypeField]; isRef {
		return nil, nil
	}

	name, ok := obj[classHintField].(string)
	if !ok {
		return nil, nil
	}

	return os.resolver.Resolve(name)
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// inferTarget picks the natural Go target for a wire value when the caller
// declared none: hints win for objects, containers and scalars map to
// their generic Go shapes.
func (os *ObjectSerializer) inferTarget(j any) (reflect.Type, error) {
	switch KindOf(j) {
	case KindObject:
		if hinted, err := os.hintedType(j); err != nil {
			return nil, err
		} else if hinted != nil {
			return hinted, nil
		}

		return reflect.TypeOf(map[string]any(nil)), nil
	case KindArray:
		return reflect.TypeOf([]any(nil)), nil
	case KindString:
		return reflect.TypeOf(""), nil
	case KindNumber:
		return reflect.TypeOf(json.Number("")), nil
	case KindBool:
		return reflect.TypeOf(false), nil
	}

	return nil, nil
}

// UnmarshalValue builds an in-memory value of the target type from the
// wire value j. A nil or empty-interface target lets the wire shape (and
// its class hint) pick the type.
func (os *ObjectSerializer) UnmarshalValue(state *SerializerState, target reflect.Type, j any) (any, error) {
	if j == nil {
		return nilForTarget(target)
	}

	if v, ok := state.lookupRestored(j); ok {
		return v, nil
	}

	// Pointer wrapped scalar targets unwrap here; pointer-to-struct
	// belongs to the bean serializer.
	if target != nil && target.Kind() == reflect.Pointer && target.Elem().Kind() != reflect.Struct {
		inner, err := os.UnmarshalValue(state, target.Elem(), j)
		if err != nil {
			return nil, err
		}

		p := reflect.New(target.Elem())
		p.Elem().Set(reflect.ValueOf(inner))

		return p.Interface(), nil
	}

	if target == nil || target == anyType {
		inferred, err := os.inferTarget(j)
		if err != nil {
			return nil, err
		}

		target = inferred
	} else if hinted, err := os.hintedType(j); err != nil {
		// A denied hint is fatal even when the declared target could have
		// consumed the value: the peer asked for a type it may not have.
		return nil, err
	} else if hinted != nil && target.Kind() == reflect.Interface && hinted.Implements(target) {
		target = hinted
	}

	ser := os.routeUnmarshal(target, KindOf(j))
	if ser == nil {
		return nil, unmarshalErr("no serializer unmarshals %s into %s", KindOf(j), target)
	}

	return ser.Unmarshal(state, target, j)
}

// TryUnmarshalValue scores the fit of wire value j against the target type
// without building anything. With a nil target every serializer accepting
// the wire kind is consulted and the best (lowest mismatch) score wins,
// ties broken by routing order.
func (os *ObjectSerializer) TryUnmarshalValue(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	if j == nil {
		return MatchOkay, nil
	}

	key, hasID := identityOf(j)
	if hasID {
		// Guard against cyclic request trees created by request fixups.
		if _, seen := state.visiting[key]; seen {
			return MatchOkay, nil
		}

		state.visiting[key] = struct{}{}
		defer delete(state.visiting, key)
	}

	if target != nil && target.Kind() == reflect.Pointer && target.Elem().Kind() != reflect.Struct {
		return os.TryUnmarshalValue(state, target.Elem(), j)
	}

	if target == nil || target == anyType {
		best, found := MatchOkay, false

		for _, s := range os.serializers {
			if !s.CanSerialize(nil, KindOf(j)) {
				continue
			}

			m, err := s.TryUnmarshal(state, nil, j)
			if err != nil {
				continue
			}

			if !found || m.Mismatch() < best.Mismatch() {
				best, found = m, true
			}
		}

		if !found {
			return MatchOkay, unmarshalErr("no serializer accepts %s", KindOf(j))
		}

		return best, nil
	}

	if hinted, err := os.hintedType(j); err != nil {
		return MatchOkay, err
	} else if hinted != nil && target.Kind() == reflect.Interface && hinted.Implements(target) {
		target = hinted
	}

	ser := os.routeUnmarshal(target, KindOf(j))
	if ser == nil {
		return MatchOkay, unmarshalErr("no serializer unmarshals %s into %s", KindOf(j), target)
	}

	return ser.TryUnmarshal(state, target, j)
}

// nilForTarget maps wire null onto the target type.
func nilForTarget(target reflect.Type) (any, error) {
	if target == nil || target == anyType {
		return nil, nil
	}

	switch target.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return reflect.Zero(target).Interface(), nil
	default:
		return nil, unmarshalErr("cannot unmarshal null into %s", target)
	}
}
