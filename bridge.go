package jsorb

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Reserved names of the method key grammar.
const (
	systemListMethods = "system.listMethods"

	objectMethodPrefix        = ".obj["
	callableReferencePrefix   = ";ref["
	encodedObjectCloseBracket = "]"
)

// defaultReferenceStoreSize bounds the live reference store. Marshalling a
// reference keeps the instance alive until it is evicted or explicitly
// invalidated.
const defaultReferenceStoreSize = 1024

// ObjectInstance pairs a registered instance with the type whose method
// set is exposed. Registering through an interface restricts the remotely
// visible methods to that interface.
type ObjectInstance struct {
	instance     any
	declaredType reflect.Type
}

// ClassDef describes a type exported by name: its Go type, the
// constructor functions reachable as "$constructor" and any static
// functions. Build one with [NewClassDef] and register it with
// [Bridge.RegisterClass].
type ClassDef struct {
	typ          reflect.Type
	constructors []any
	statics      map[string][]any
}

// NewClassDef starts a class definition for typ.
func NewClassDef(typ reflect.Type) *ClassDef {
	return &ClassDef{typ: typ, statics: make(map[string][]any)}
}

// Constructor adds a constructor function. Overloads are resolved the same
// way as method overloads.
func (cd *ClassDef) Constructor(fn any) *ClassDef {
	cd.constructors = append(cd.constructors, fn)
	return cd
}

// Static adds a static function reachable as "<class>.<name>".
func (cd *ClassDef) Static(name string, fn any) *ClassDef {
	cd.statics[name] = append(cd.statics[name], fn)
	return cd
}

// classEntry is a registered class with its built candidate sets.
type classEntry struct {
	def  *ClassDef
	data *classData
	// stale when the local argument registry changed since the build
	generation uint64
}

// Option configures a [Bridge] at construction time.
type Option func(*Bridge)

// WithLogger installs the structured logger used by the bridge, its
// serializer and its resolver. The default logger discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithFixupPolicy selects how shared and cyclic subgraphs are encoded in
// responses.
func WithFixupPolicy(p FixupPolicy) Option {
	return func(b *Bridge) { b.serializer.fixupPolicy = p }
}

// WithFlatMode switches the bridge to flat output and flat request
// parsing.
func WithFlatMode() Option {
	return func(b *Bridge) {
		b.serializer.flatMode = true
		b.requestParser = NewFlatRequestParser()
	}
}

// WithMarshalClassHints controls the "javaClass" hint policy; hints are on
// by default.
func WithMarshalClassHints(on bool) Option {
	return func(b *Bridge) { b.serializer.SetMarshalClassHints(on) }
}

// WithExceptionTransformer installs the shaping applied to errors raised
// by invoked methods before they travel in the error data member.
func WithExceptionTransformer(t ExceptionTransformer) Option {
	return func(b *Bridge) { b.exceptionTransformer = t }
}

// WithParent makes this a session bridge delegating unknown classes and
// objects to parent, typically a process wide bridge.
func WithParent(parent *Bridge) Option {
	return func(b *Bridge) { b.parent = parent }
}

// WithReferenceStoreSize bounds the live reference store; the least
// recently used references are evicted first once the bound is hit.
func WithReferenceStoreSize(n int) Option {
	return func(b *Bridge) { b.refStoreSize = n }
}

// Bridge dispatches JSON-RPC requests to methods on exported objects and
// classes. A Bridge is safe for concurrent use: registration and calls may
// interleave freely. All per-call state lives in [SerializerState] values
// created per request.
type Bridge struct {
	registry   *TypeRegistry
	resolver   *ClassResolver
	serializer *ObjectSerializer
	analyzer   *ClassAnalyzer
	localArgs  *LocalArgController
	callbacks  *CallbackController
	methods    methodResolver

	requestParser        RequestParser
	exceptionTransformer ExceptionTransformer
	parent               *Bridge
	log                  zerolog.Logger

	mu                   sync.Mutex
	classMap             map[string]*classEntry
	objectMap            map[string]*ObjectInstance
	referencesEnabled    bool
	referenceSet         mapset.Set[reflect.Type]
	callableReferenceSet mapset.Set[reflect.Type]
	classGeneration      uint64

	refStoreSize int
	refMu        sync.Mutex
	references   *lru.Cache[int64, any]
	refIDs       map[identityKey]int64
	nextRefID    atomic.Int64
}

// NewBridge returns a bridge with the default wire mode: class hints on,
// fixups for circular references and non-primitive duplicates, nested
// request parsing.
func NewBridge(opts ...Option) *Bridge {
	registry := NewTypeRegistry()
	resolver := NewClassResolver(registry)

	b := &Bridge{
		registry:             registry,
		resolver:             resolver,
		serializer:           newObjectSerializer(registry, resolver),
		localArgs:            NewLocalArgController(),
		callbacks:            NewCallbackController(),
		requestParser:        NewNestedRequestParser(),
		exceptionTransformer: defaultExceptionTransformer,
		log:                  zerolog.Nop(),
		classMap:             make(map[string]*classEntry),
		objectMap:            make(map[string]*ObjectInstance),
		referenceSet:         mapset.NewSet[reflect.Type](),
		callableReferenceSet: mapset.NewSet[reflect.Type](),
		refStoreSize:         defaultReferenceStoreSize,
		refIDs:               make(map[identityKey]int64),
	}

	b.serializer.SetMarshalClassHints(true)
	b.methods = methodResolver{bridge: b}
	b.analyzer = NewClassAnalyzer(b.localArgs)

	// Local argument changes shift arity keys everywhere.
	b.localArgs.setOnChange(func() {
		b.analyzer.Invalidate()
		b.mu.Lock()
		b.classGeneration++
		b.mu.Unlock()
	})

	for _, opt := range opts {
		opt(b)
	}

	b.serializer.log = b.log
	b.resolver.SetLogger(b.log)
	b.callbacks.SetLogger(b.log)

	b.references, _ = lru.NewWithEvict[int64, any](b.refStoreSize, func(_ int64, v any) {
		if key, ok := identityOf(v); ok {
			b.refMu.Lock()
			delete(b.refIDs, key)
			b.refMu.Unlock()
		}
	})

	return b
}

// Serializer returns the bridge's marshalling façade.
func (b *Bridge) Serializer() *ObjectSerializer {
	return b.serializer
}

// Resolver returns the class resolver gating "javaClass" hints.
func (b *Bridge) Resolver() *ClassResolver {
	return b.resolver
}

// Callbacks returns the bridge's callback controller.
func (b *Bridge) Callbacks() *CallbackController {
	return b.callbacks
}

// LocalArgs returns the local argument controller.
func (b *Bridge) LocalArgs() *LocalArgController {
	return b.localArgs
}

// RegisterType binds a wire name to a Go type and allows it through the
// class resolver, making the type instantiable from "javaClass" hints.
func (b *Bridge) RegisterType(wireName string, typ reflect.Type) {
	b.registry.Register(wireName, typ)
	b.resolver.Allow(wireName)
}

// RegisterObject exports every exported method of o under name, so remote
// peers can call "name.method". Registering a name again replaces the
// previous entry.
func (b *Bridge) RegisterObject(name string, o any) {
	b.RegisterObjectWithType(name, o, reflect.TypeOf(o))
}

// RegisterObjectWithType exports o restricted to the method set of
// declaredType (typically an interface type o implements).
func (b *Bridge) RegisterObjectWithType(name string, o any, declaredType reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objectMap[name] = &ObjectInstance{instance: o, declaredType: declaredType}
	b.log.Debug().Str("object", name).Str("type", declaredType.String()).Msg("registered object")
}

// UnregisterObject removes an exported object.
func (b *Bridge) UnregisterObject(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objectMap, name)
}

// RegisterClass exports a class definition under name: its constructors as
// "name.$constructor" and its static functions as "name.<fn>". The class
// type is also registered and allowed for hint resolution.
func (b *Bridge) RegisterClass(name string, def *ClassDef) error {
	data := &classData{typ: def.typ, methodMap: make(map[methodKey][]*callable)}

	if err := buildClassData(data, def, b.localArgs); err != nil {
		return err
	}

	b.mu.Lock()
	b.classMap[name] = &classEntry{def: def, data: data, generation: b.classGeneration}
	b.mu.Unlock()

	b.RegisterType(name, def.typ)
	b.log.Debug().Str("class", name).Msg("registered class")

	return nil
}

// UnregisterClass removes an exported class.
func (b *Bridge) UnregisterClass(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.classMap, name)
}

func buildClassData(data *classData, def *ClassDef, localArgs *LocalArgController) error {
	for _, fn := range def.constructors {
		c, err := newFuncCallable(constructorName, fn, localArgs)
		if err != nil {
			return err
		}

		data.add(c)
	}

	for name, fns := range def.statics {
		for _, fn := range fns {
			c, err := newFuncCallable(name, fn, localArgs)
			if err != nil {
				return err
			}

			data.add(c)
		}
	}

	return nil
}

// classData returns the candidate sets of a registered class, rebuilding
// them when the local argument registry changed underneath.
func (b *Bridge) classData(entry *classEntry) (*classData, error) {
	b.mu.Lock()
	generation := b.classGeneration
	stale := entry.generation != generation
	b.mu.Unlock()

	if !stale {
		return entry.data, nil
	}

	data := &classData{typ: entry.def.typ, methodMap: make(map[methodKey][]*callable)}
	if err := buildClassData(data, entry.def, b.localArgs); err != nil {
		return nil, err
	}

	b.mu.Lock()
	entry.data = data
	entry.generation = generation
	b.mu.Unlock()

	return data, nil
}

// EnableReferences installs the reference serializer at the front of the
// routing order (ahead of the bean serializer) and enables the reference
// registries. Safe to call more than once.
func (b *Bridge) EnableReferences() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.referencesEnabled {
		return
	}

	b.serializer.RegisterSerializer(&referenceSerializer{bridge: b})
	b.referencesEnabled = true
	b.log.Info().Msg("enabled references on this bridge")
}

// RegisterReference marks typ to be marshalled as an opaque reference
// handle instead of by value. [Bridge.EnableReferences] must have been
// called.
func (b *Bridge) RegisterReference(typ reflect.Type) error {
	if !b.ReferencesEnabled() {
		return fmt.Errorf("references are not enabled on this bridge")
	}

	b.referenceSet.Add(typ)

	return nil
}

// RegisterCallableReference marks typ to be marshalled as a callable
// reference: a handle whose methods the peer may invoke through
// ".obj[<id>].method" calls.
func (b *Bridge) RegisterCallableReference(name string, typ reflect.Type) error {
	if !b.ReferencesEnabled() {
		return fmt.Errorf("references are not enabled on this bridge")
	}

	b.callableReferenceSet.Add(typ)
	b.RegisterType(name, typ)

	return nil
}

// ReferencesEnabled reports whether [Bridge.EnableReferences] was called.
func (b *Bridge) ReferencesEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.referencesEnabled
}

// IsReference reports whether typ is registered as a plain reference type.
func (b *Bridge) IsReference(typ reflect.Type) bool {
	if !b.ReferencesEnabled() {
		return false
	}

	return b.referenceSet.Contains(typ)
}

// IsCallableReference reports whether typ (or a type it is assignable to,
// or an interface it implements) is registered as a callable reference.
func (b *Bridge) IsCallableReference(typ reflect.Type) bool {
	if !b.ReferencesEnabled() {
		return false
	}

	if b.callableReferenceSet.Contains(typ) {
		return true
	}

	for _, rt := range b.callableReferenceSet.ToSlice() {
		if rt.Kind() == reflect.Interface && typ.Implements(rt) {
			return true
		}

		if typ.AssignableTo(rt) {
			return true
		}
	}

	return false
}

// addReference stores o in the live reference store and returns its object
// ID. The same instance keeps the same ID across calls while it stays in
// the store.
func (b *Bridge) addReference(o any) (int64, error) {
	key, ok := identityOf(o)
	if !ok {
		return 0, fmt.Errorf("%T has no identity; only pointer shaped values can be references", o)
	}

	b.refMu.Lock()

	if id, present := b.refIDs[key]; present {
		// Refresh recency.
		if _, hit := b.references.Get(id); hit {
			b.refMu.Unlock()
			return id, nil
		}
	}

	id := b.nextRefID.Add(1)
	b.refIDs[key] = id
	b.refMu.Unlock()

	// Added outside refMu: insertion may evict, and the eviction hook
	// takes refMu to drop the victim's identity mapping.
	b.references.Add(id, o)

	return id, nil
}

// GetReference resolves a live reference by object ID.
func (b *Bridge) GetReference(id int64) (any, bool) {
	v, ok := b.references.Get(id)
	if !ok && b.parent != nil {
		return b.parent.GetReference(id)
	}

	return v, ok
}

// DeleteReference explicitly invalidates a live reference.
func (b *Bridge) DeleteReference(id int64) {
	b.references.Remove(id)
}

// ClearReferences empties the live reference store.
func (b *Bridge) ClearReferences() {
	b.references.Purge()

	b.refMu.Lock()
	b.refIDs = make(map[identityKey]int64)
	b.refMu.Unlock()
}

// lookupObject resolves a registered object by name, delegating to the
// parent bridge when unknown here.
func (b *Bridge) lookupObject(name string) (*ObjectInstance, bool) {
	b.mu.Lock()
	oi, ok := b.objectMap[name]
	b.mu.Unlock()

	if !ok && b.parent != nil {
		return b.parent.lookupObject(name)
	}

	return oi, ok
}

// lookupClass resolves a registered class by name, delegating to the
// parent bridge when unknown here.
func (b *Bridge) lookupClass(name string) (*classEntry, bool) {
	b.mu.Lock()
	ce, ok := b.classMap[name]
	b.mu.Unlock()

	if !ok && b.parent != nil {
		return b.parent.lookupClass(name)
	}

	return ce, ok
}

// parseEncodedMethod splits an encoded method name into its object ID (0
// for class scope), class-or-object token and method name.
func parseEncodedMethod(encoded string) (objectID int64, className, methodName string) {
	lastDot := strings.LastIndex(encoded, ".")

	if strings.HasPrefix(encoded, objectMethodPrefix) {
		open := strings.Index(encoded, "[")
		closing := strings.Index(encoded, encodedObjectCloseBracket)

		if open != -1 && closing != -1 && open < closing {
			if id, err := strconv.ParseInt(encoded[open+1:closing], 10, 64); err == nil {
				objectID = id
			}
		}
	}

	if lastDot == -1 {
		return objectID, encoded, ""
	}

	return objectID, encoded[:lastDot], encoded[lastDot+1:]
}

// Call dispatches one decoded request and always returns a well formed
// [Result]; no failure mode escapes as an error or panic. The contexts
// slice carries opaque transport values (an HTTP request, a session)
// consumed by local argument resolvers and matched against registered
// callbacks.
func (b *Bridge) Call(ctx context.Context, contexts []any, rawReq []byte) (result Result) {
	var requestID any

	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("panic during call")
			result = NewRemoteFailedResult(requestID, "panic during call")
		}
	}()

	tree, err := decodeTree(rawReq)
	if err != nil {
		b.log.Error().Err(err).Msg("request parse failure")
		return NewFailedResult(CodeErrParse, nil, msgErrParse)
	}

	req, ok := tree.(map[string]any)
	if !ok {
		return NewFailedResult(CodeErrParse, nil, msgErrParse)
	}

	requestID = req[idField]

	encodedMethod, ok := req[methodField].(string)
	if !ok {
		b.log.Error().Msg("no method in request")
		return NewFailedResult(CodeErrNoMethod, requestID, msgErrNoMethod)
	}

	args, err := b.requestParser.ParseParams(req)
	if err != nil {
		b.log.Error().Err(err).Str("method", encodedMethod).Msg("bad request params")
		return NewFailedResult(CodeErrNoConstructor, requestID, msgErrFixup)
	}

	b.log.Debug().Str("method", encodedMethod).Interface("id", requestID).Msg("call")

	objectID, className, methodName := parseEncodedMethod(encodedMethod)

	if objectID == 0 && encodedMethod == systemListMethods {
		return NewSuccessfulResult(requestID, b.systemMethods())
	}

	instance, methodMap, failure := b.resolveTarget(objectID, className, methodName, requestID)
	if failure != nil {
		return failure
	}

	c := b.methods.resolveMethod(methodMap, methodName, args)
	if c == nil {
		if methodName == constructorName {
			return NewFailedResult(CodeErrNoConstructor, requestID, msgErrNoConstructor)
		}

		return NewFailedResult(CodeErrNoMethod, requestID, msgErrNoMethod)
	}

	return b.methods.invoke(ctx, contexts, c, instance, requestID, args)
}

// resolveTarget finds the instance and candidate method map an encoded
// method addresses.
func (b *Bridge) resolveTarget(objectID int64, className, methodName string, requestID any) (any, map[methodKey][]*callable, Result) {
	if objectID != 0 {
		instance, ok := b.GetReference(objectID)
		if !ok {
			b.log.Warn().Int64("objectID", objectID).Msg("unknown object reference")
			return nil, nil, NewFailedResult(CodeErrNoMethod, requestID, msgErrNoMethod)
		}

		return instance, b.analyzer.Analyze(reflect.TypeOf(instance)).methodMap, nil
	}

	if oi, ok := b.lookupObject(className); ok {
		return oi.instance, b.analyzer.Analyze(oi.declaredType).methodMap, nil
	}

	if ce, ok := b.lookupClass(className); ok {
		data, err := b.classData(ce)
		if err != nil {
			return nil, nil, NewFailedResult(CodeErrNoMethod, requestID, err.Error())
		}

		return nil, data.methodMap, nil
	}

	if methodName == constructorName {
		return nil, nil, NewFailedResult(CodeErrNoConstructor, requestID, msgErrNoConstructor)
	}

	return nil, nil, NewFailedResult(CodeErrNoMethod, requestID, msgErrNoMethod)
}

// systemMethods builds the sorted method catalogue served for
// "system.listMethods": instance methods as "key.method", statics and
// constructors as "class.method", callable reference methods as
// ";ref[name].method".
func (b *Bridge) systemMethods() []string {
	var out []string

	b.mu.Lock()

	for name, oi := range b.objectMap {
		for _, m := range b.analyzer.Analyze(oi.declaredType).methodNames() {
			out = append(out, name+"."+m)
		}
	}

	classes := make(map[string]*classEntry, len(b.classMap))
	for name, ce := range b.classMap {
		classes[name] = ce
	}

	callables := b.callableReferenceSet.ToSlice()

	b.mu.Unlock()

	for name, ce := range classes {
		data, err := b.classData(ce)
		if err != nil {
			continue
		}

		for _, m := range data.methodNames() {
			out = append(out, name+"."+m)
		}
	}

	for _, typ := range callables {
		wireName := b.registry.NameFor(typ)
		for _, m := range b.analyzer.Analyze(typ).methodNames() {
			out = append(out, callableReferencePrefix+wireName+encodedObjectCloseBracket+"."+m)
		}
	}

	if b.parent != nil {
		out = append(out, b.parent.systemMethods()...)
	}

	sort.Strings(out)

	return out
}
