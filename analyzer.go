package jsorb

import (
	"fmt"
	"reflect"
	"sync"
	"unicode"
)

// constructorName is the synthetic method name for constructor calls.
const constructorName = "$constructor"

// methodKey identifies a candidate set: method name plus the number of
// wire arguments, local parameters excluded.
type methodKey struct {
	name  string
	arity int
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// callable is one invocable method, static function or constructor.
type callable struct {
	name       string
	paramTypes []reflect.Type
	wireParams []reflect.Type
	invoke     func(instance any, args []reflect.Value) []reflect.Value
}

// lowerFirst maps an exported Go method name to its wire form: the
// lower-camel convention the JavaScript client expects ("Echo" -> "echo").
func lowerFirst(name string) string {
	r := []rune(name)
	r[0] = unicode.ToLower(r[0])

	return string(r)
}

// newMethodCallable builds a callable for method m of the analyzed type.
// The receiver is resolved per invocation from the registered instance.
func newMethodCallable(name string, fnType reflect.Type, skipReceiver bool, localArgs *LocalArgController) (*callable, bool) {
	if fnType.IsVariadic() {
		return nil, false
	}

	switch fnType.NumOut() {
	case 0, 1:
	case 2:
		if fnType.Out(1) != errType {
			return nil, false
		}
	default:
		return nil, false
	}

	start := 0
	if skipReceiver {
		start = 1
	}

	params := make([]reflect.Type, 0, fnType.NumIn()-start)
	for i := start; i < fnType.NumIn(); i++ {
		params = append(params, fnType.In(i))
	}

	c := &callable{name: name, paramTypes: params}

	for _, p := range params {
		if !localArgs.IsLocalArg(p) {
			c.wireParams = append(c.wireParams, p)
		}
	}

	return c, true
}

// newFuncCallable builds a callable for a registered static function or
// constructor.
func newFuncCallable(name string, fn any, localArgs *LocalArgController) (*callable, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s: %T is not a function", name, fn)
	}

	c, ok := newMethodCallable(name, fv.Type(), false, localArgs)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported signature %s", name, fv.Type())
	}

	c.invoke = func(_ any, args []reflect.Value) []reflect.Value {
		return fv.Call(args)
	}

	return c, nil
}

// classData is the cached method analysis of one type: candidate sets
// keyed by name and wire arity.
type classData struct {
	typ       reflect.Type
	methodMap map[methodKey][]*callable
}

func (cd *classData) add(c *callable) {
	key := methodKey{name: c.name, arity: len(c.wireParams)}
	cd.methodMap[key] = append(cd.methodMap[key], c)
}

// methodNames returns the distinct method names of the analyzed type.
func (cd *classData) methodNames() []string {
	seen := make(map[string]struct{})

	for key := range cd.methodMap {
		seen[key.name] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	return names
}

// ClassAnalyzer caches per-type method analysis for the dispatcher.
// Analysis is one shot and invalidated only when the local argument
// registry changes, since that shifts the wire arity of cached keys.
type ClassAnalyzer struct {
	localArgs *LocalArgController

	mu    sync.Mutex
	cache map[reflect.Type]*classData
}

// NewClassAnalyzer returns an analyzer that excludes parameters the given
// controller resolves locally.
func NewClassAnalyzer(localArgs *LocalArgController) *ClassAnalyzer {
	ca := &ClassAnalyzer{localArgs: localArgs, cache: make(map[reflect.Type]*classData)}
	localArgs.setOnChange(ca.Invalidate)

	return ca
}

// Invalidate empties the analysis cache.
func (ca *ClassAnalyzer) Invalidate() {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	ca.cache = make(map[reflect.Type]*classData)
}

// Analyze returns the method analysis of t: for interfaces the interface
// method set, for concrete types every exported method (pointer receiver
// methods included when t is a pointer type).
func (ca *ClassAnalyzer) Analyze(t reflect.Type) *classData {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if cd, ok := ca.cache[t]; ok {
		return cd
	}

	cd := &classData{typ: t, methodMap: make(map[methodKey][]*callable)}

	skipReceiver := t.Kind() != reflect.Interface

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)

		if !m.IsExported() {
			continue
		}

		if c, ok := newMethodCallable(lowerFirst(m.Name), m.Type, skipReceiver, ca.localArgs); ok {
			goName := m.Name
			c.invoke = func(instance any, args []reflect.Value) []reflect.Value {
				return reflect.ValueOf(instance).MethodByName(goName).Call(args)
			}

			cd.add(c)
		}
	}

	ca.cache[t] = cd

	return cd
}
