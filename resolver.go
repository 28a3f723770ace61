package jsorb

import (
	"reflect"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DispatchSafe marks a type as instantiable through a "javaClass" hint even
// when its wire name is not on the resolver's allow list. Implement it on
// types that are deliberately part of the remote surface:
//
//	func (MyDTO) DispatchSafe() {}
type DispatchSafe interface {
	DispatchSafe()
}

var dispatchSafeType = reflect.TypeOf((*DispatchSafe)(nil)).Elem()

// Wire name prefixes that are never resolvable, whatever the allow list
// says.
var defaultDisallowedPrefixes = []string{"javax.", "com.sun.", "sun."}

// negativeCacheSize bounds the cache of names known to be unresolvable so
// a peer probing with random names cannot grow it without limit.
const negativeCacheSize = 256

// maxClassNameLength caps accepted wire names.
const maxClassNameLength = 256

// ClassResolver is the security gate between "javaClass" hints and type
// instantiation. A name resolves only when every rule passes: it is
// non-empty, bounded in length, not in the default package, not under a
// disallowed prefix, present in the allow list (or the type is marked
// [DispatchSafe]) and actually registered in the [TypeRegistry].
//
// Positive results are cached for the life of the resolver. Negative
// results live in a bounded LRU so later registrations can be revisited.
type ClassResolver struct {
	registry           *TypeRegistry
	allowed            mapset.Set[string]
	disallowedPrefixes []string

	mu       sync.RWMutex
	resolved map[string]reflect.Type
	denied   *lru.Cache[string, struct{}]

	log zerolog.Logger
}

// NewClassResolver returns a resolver over registry with the default
// disallowed prefixes and an allow list holding only the built-in
// container vocabulary.
func NewClassResolver(registry *TypeRegistry) *ClassResolver {
	denied, _ := lru.New[string, struct{}](negativeCacheSize)

	return &ClassResolver{
		registry: registry,
		allowed: mapset.NewSet(
			classNameDate, classNameTimestamp, classNameSQLDate, classNameSQLTime,
			classNameMap, classNameList, classNameSet,
		),
		disallowedPrefixes: defaultDisallowedPrefixes,
		resolved:           make(map[string]reflect.Type),
		denied:             denied,
		log:                zerolog.Nop(),
	}
}

// Allow adds wire names to the allow list.
func (cr *ClassResolver) Allow(names ...string) {
	cr.allowed.Append(names...)
}

// SetLogger installs the logger used for resolution verdicts.
func (cr *ClassResolver) SetLogger(log zerolog.Logger) {
	cr.log = log
}

// TryResolve returns the type registered under name, or nil when the name
// is denied or unknown.
func (cr *ClassResolver) TryResolve(name string) reflect.Type {
	if name == "" || len(name) > maxClassNameLength {
		return nil
	}

	cr.mu.RLock()
	typ, hit := cr.resolved[name]
	cr.mu.RUnlock()

	if hit {
		return typ
	}

	if _, deniedHit := cr.denied.Get(name); deniedHit {
		return nil
	}

	typ = cr.resolve(name)

	if typ == nil {
		cr.log.Warn().Str("class", name).Msg("marking class as not resolvable")
		cr.denied.Add(name, struct{}{})
	} else {
		cr.log.Debug().Str("class", name).Msg("marking class as resolvable")
		cr.mu.Lock()
		cr.resolved[name] = typ
		cr.mu.Unlock()
	}

	return typ
}

// Resolve is [ClassResolver.TryResolve] returning an unmarshal error on
// denial.
func (cr *ClassResolver) Resolve(name string) (reflect.Type, error) {
	if typ := cr.TryResolve(name); typ != nil {
		return typ, nil
	}

	return nil, unmarshalErr("could not resolve class %q", name)
}

func (cr *ClassResolver) resolve(name string) reflect.Type {
	// Normalize JVM style array syntax ("[Lpkg.Foo;") down to the element
	// name before consulting the allow list.
	elem := name

	if strings.HasSuffix(elem, ";") {
		elem = elem[:len(elem)-1]
	}

	for strings.HasPrefix(elem, "[") {
		elem = elem[1:]
	}

	if strings.HasPrefix(elem, "L") && strings.Contains(elem, ".") && elem != name {
		elem = elem[1:]
	}

	if elem == "" {
		return nil
	}

	// No default-package names.
	if !strings.Contains(elem, ".") {
		return nil
	}

	for _, prefix := range cr.disallowedPrefixes {
		if strings.HasPrefix(name, prefix) || strings.HasPrefix(elem, prefix) {
			return nil
		}
	}

	typ, ok := cr.registry.TypeFor(elem)
	if !ok {
		return nil
	}

	if cr.allowed.Contains(name) || cr.allowed.Contains(elem) {
		return typ
	}

	// Not allow listed: the type itself may opt in.
	if typ.Implements(dispatchSafeType) || reflect.PointerTo(typ).Implements(dispatchSafeType) {
		return typ
	}

	return nil
}
