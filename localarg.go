package jsorb

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// LocalArgResolver produces the value for a local argument: a method
// parameter the dispatcher fills from request context instead of from the
// wire. The contexts slice holds the opaque values the transport passed to
// [Bridge.Call].
type LocalArgResolver interface {
	Resolve(ctx context.Context, contexts []any) (any, error)
}

// LocalArgResolverFunc adapts a function to [LocalArgResolver].
type LocalArgResolverFunc func(ctx context.Context, contexts []any) (any, error)

// Resolve implements [LocalArgResolver].
func (f LocalArgResolverFunc) Resolve(ctx context.Context, contexts []any) (any, error) {
	return f(ctx, contexts)
}

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// LocalArgController is the type keyed registry of local argument
// resolvers. Parameters whose type is registered here are excluded from
// the wire arity of a method.
type LocalArgController struct {
	mu        sync.RWMutex
	resolvers map[reflect.Type]LocalArgResolver

	// onChange invalidates the class analysis cache: arity keys shift when
	// the local argument set changes.
	onChange func()
}

// NewLocalArgController returns a controller with the built-in resolver
// for [context.Context] parameters installed.
func NewLocalArgController() *LocalArgController {
	la := &LocalArgController{resolvers: make(map[reflect.Type]LocalArgResolver)}

	la.resolvers[contextType] = LocalArgResolverFunc(func(ctx context.Context, _ []any) (any, error) {
		return ctx, nil
	})

	return la
}

func (la *LocalArgController) setOnChange(fn func()) {
	la.mu.Lock()
	defer la.mu.Unlock()

	la.onChange = fn
}

// Register installs a resolver for parameters of paramType.
func (la *LocalArgController) Register(paramType reflect.Type, r LocalArgResolver) {
	la.mu.Lock()
	la.resolvers[paramType] = r
	onChange := la.onChange
	la.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// Unregister removes the resolver for paramType.
func (la *LocalArgController) Unregister(paramType reflect.Type) {
	la.mu.Lock()
	delete(la.resolvers, paramType)
	onChange := la.onChange
	la.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// IsLocalArg reports whether parameters of type t resolve from context.
func (la *LocalArgController) IsLocalArg(t reflect.Type) bool {
	la.mu.RLock()
	defer la.mu.RUnlock()

	if _, ok := la.resolvers[t]; ok {
		return true
	}

	// A registered concrete context type also satisfies non-empty
	// interface parameters it implements. Empty interfaces stay wire
	// arguments.
	for rt := range la.resolvers {
		if t.Kind() == reflect.Interface && t.NumMethod() > 0 && rt.Implements(t) {
			return true
		}
	}

	return false
}

// Resolve produces the value for a local parameter of type t.
func (la *LocalArgController) Resolve(t reflect.Type, ctx context.Context, contexts []any) (any, error) {
	la.mu.RLock()
	r, ok := la.resolvers[t]

	if !ok && t.Kind() == reflect.Interface && t.NumMethod() > 0 {
		for rt, rr := range la.resolvers {
			if rt.Implements(t) {
				r, ok = rr, true
				break
			}
		}
	}
	la.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no local argument resolver for %s", t)
	}

	return r.Resolve(ctx, contexts)
}
