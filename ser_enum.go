package jsorb

import (
	"fmt"
	"reflect"
	"sync"
)

// enumRegistry holds the name/value tables for enum-like types. Go has no
// enum introspection, so the table is supplied at registration time.
type enumRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*enumTable
}

type enumTable struct {
	wireName string
	byName   map[string]any
	names    map[any]string
}

func newEnumRegistry() *enumRegistry {
	return &enumRegistry{byType: make(map[reflect.Type]*enumTable)}
}

func (er *enumRegistry) register(registry *TypeRegistry, wireName string, values map[string]any) error {
	if len(values) == 0 {
		return fmt.Errorf("enum %q has no values", wireName)
	}

	var typ reflect.Type

	table := &enumTable{
		wireName: wireName,
		byName:   make(map[string]any, len(values)),
		names:    make(map[any]string, len(values)),
	}

	for name, v := range values {
		vt := reflect.TypeOf(v)

		if typ == nil {
			typ = vt
		} else if vt != typ {
			return fmt.Errorf("enum %q mixes value types %s and %s", wireName, typ, vt)
		}

		table.byName[name] = v
		table.names[v] = name
	}

	er.mu.Lock()
	er.byType[typ] = table
	er.mu.Unlock()

	registry.Register(wireName, typ)

	return nil
}

func (er *enumRegistry) lookup(typ reflect.Type) (*enumTable, bool) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	t, ok := er.byType[typ]

	return t, ok
}

// enumSerializer marshals registered enum values as their name and
// restores them by name lookup on the declared target type.
type enumSerializer struct {
	enums *enumRegistry
}

func (enumSerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (enumSerializer) JSONKinds() []Kind {
	return []Kind{KindString}
}

func (e *enumSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, e.JSONKinds()) {
		return false
	}

	if src == nil {
		return false
	}

	_, ok := e.enums.lookup(src)

	return ok
}

func (e *enumSerializer) Marshal(_ *SerializerState, _ *ProcessedObject, v any) (any, error) {
	table, ok := e.enums.lookup(reflect.TypeOf(v))
	if !ok {
		return nil, marshalErr("%T is not a registered enum", v)
	}

	name, ok := table.names[v]
	if !ok {
		return nil, marshalErr("%v is not a value of enum %s", v, table.wireName)
	}

	return name, nil
}

func (e *enumSerializer) TryUnmarshal(_ *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	if _, err := e.lookupValue(target, j); err != nil {
		return MatchOkay, err
	}

	return MatchOkay, nil
}

func (e *enumSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	return e.lookupValue(target, j)
}

func (e *enumSerializer) lookupValue(target reflect.Type, j any) (any, error) {
	name, ok := j.(string)
	if !ok {
		return nil, unmarshalErr("%v is not an enum name", KindOf(j))
	}

	table, ok := e.enums.lookup(target)
	if !ok {
		return nil, unmarshalErr("%s is not a registered enum", target)
	}

	v, ok := table.byName[name]
	if !ok {
		return nil, unmarshalErr("%q is not a value of enum %s", name, table.wireName)
	}

	return v, nil
}
