package jsorb

import (
	"reflect"
	"sync"
	"time"
)

// TypeRegistry maps wire type names (the values carried in "javaClass"
// hints) to Go types and back. Go has no class loader, so every type that
// may appear in a hint must be registered before it can be resolved.
//
// A TypeRegistry is safe for concurrent use.
type TypeRegistry struct {
	mu      sync.RWMutex
	byName  map[string]reflect.Type
	byType  map[reflect.Type]string
}

// NewTypeRegistry returns a registry pre-populated with the built-in
// container and date vocabulary.
func NewTypeRegistry() *TypeRegistry {
	tr := &TypeRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}

	tr.Register(classNameDate, reflect.TypeOf(time.Time{}))
	tr.Register(classNameTimestamp, reflect.TypeOf(time.Time{}))
	tr.Register(classNameSQLDate, reflect.TypeOf(time.Time{}))
	tr.Register(classNameSQLTime, reflect.TypeOf(time.Time{}))
	tr.Register(classNameMap, reflect.TypeOf(map[string]any(nil)))
	tr.Register(classNameList, reflect.TypeOf([]any(nil)))
	tr.Register(classNameSet, setType)

	return tr
}

// Register binds a wire name to a Go type. Registering the same name again
// replaces the binding; the reverse mapping keeps the first name registered
// for a type so marshalled hints stay stable.
func (tr *TypeRegistry) Register(name string, typ reflect.Type) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.byName[name] = typ

	if _, ok := tr.byType[typ]; !ok {
		tr.byType[typ] = name
	}
}

// TypeFor returns the Go type registered under name.
func (tr *TypeRegistry) TypeFor(name string) (reflect.Type, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	t, ok := tr.byName[name]

	return t, ok
}

// NameFor returns the wire name for a Go type. Unregistered types fall
// back to their Go type string so hints are always present when enabled.
func (tr *TypeRegistry) NameFor(typ reflect.Type) string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if n, ok := tr.byType[typ]; ok {
		return n
	}

	if typ.Kind() == reflect.Pointer {
		if n, ok := tr.byType[typ.Elem()]; ok {
			return n
		}

		return typ.Elem().String()
	}

	return typ.String()
}
