package jsorb

import (
	"fmt"
	"reflect"
	"strconv"
)

// identityKey identifies an in-memory value for duplicate and cycle
// detection. Only pointer shaped kinds carry identity; values passed by
// copy can never be the same instance twice.
type identityKey struct {
	typ reflect.Type
	ptr uintptr
}

// identityOf returns the identity of v and whether v has one.
func identityOf(v any) (identityKey, bool) {
	if v == nil {
		return identityKey{}, false
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return identityKey{}, false
		}

		return identityKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	default:
		return identityKey{}, false
	}
}

// ProcessedObject is the per-instance record kept while a value is being
// marshalled: the original, its (eventually final) serialized form, and the
// location of its first encounter in the emitted tree.
type ProcessedObject struct {
	object     any
	serialized any
	location   Path
	flatIndex  string
	onStack    bool
	haveForm   bool
}

// Location returns where the object first appeared in the marshalled tree.
func (po *ProcessedObject) Location() Path {
	return po.location
}

// Serialized returns the recorded wire form, if any.
func (po *ProcessedObject) Serialized() (any, bool) {
	return po.serialized, po.haveForm
}

// CircularReferenceHandler decides what happens when a value is encountered
// again while it is still an ancestor of the current descent, i.e. the
// graph contains a true cycle.
type CircularReferenceHandler interface {
	// CircularReferenceFound returns the JSON value to emit in place of the
	// repeated encounter, or an error to abort the marshal.
	CircularReferenceFound(state *SerializerState, original Path, current Path, value any) (any, error)
}

// DuplicateHandler decides what happens when a value is encountered again
// outside the current descent: a shared, non-cyclic subgraph.
type DuplicateHandler interface {
	// DuplicateFound returns (replacement, true) to short-circuit the
	// second encounter, or (nil, false) to let the serializer emit an
	// independent copy.
	DuplicateFound(state *SerializerState, original Path, current Path, value any) (any, bool, error)
}

// errorOnCircular aborts marshalling when a cycle is found.
type errorOnCircular struct{}

func (errorOnCircular) CircularReferenceFound(_ *SerializerState, original Path, current Path, _ any) (any, error) {
	return nil, fmt.Errorf("%w at %s, first seen at %s", ErrCircularReference, current, original)
}

// fixupCircular emits a fixup instruction pointing the repeated location at
// the first encounter.
type fixupCircular struct{}

func (fixupCircular) CircularReferenceFound(state *SerializerState, original Path, current Path, _ any) (any, error) {
	state.addFixup(current, original)
	return nil, nil
}

// copyDuplicates re-serializes duplicates in place, producing value copies.
type copyDuplicates struct{}

func (copyDuplicates) DuplicateFound(*SerializerState, Path, Path, any) (any, bool, error) {
	return nil, false, nil
}

// fixupDuplicates emits a fixup for every repeated encounter.
type fixupDuplicates struct{}

func (fixupDuplicates) DuplicateFound(state *SerializerState, original Path, current Path, _ any) (any, bool, error) {
	state.addFixup(current, original)
	return nil, true, nil
}

// fixupNonPrimitiveDuplicates emits fixups only for values whose wire form
// is composite; repeated scalars are cheaper to send again than to fix up.
type fixupNonPrimitiveDuplicates struct{}

func (fixupNonPrimitiveDuplicates) DuplicateFound(state *SerializerState, original Path, current Path, value any) (any, bool, error) {
	if isWirePrimitive(value) {
		return nil, false, nil
	}

	state.addFixup(current, original)

	return nil, true, nil
}

// isWirePrimitive reports whether the value will marshal to a JSON scalar.
func isWirePrimitive(v any) bool {
	if v == nil {
		return true
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}

	return false
}

// FixupPolicy selects how shared and cyclic subgraphs are represented in
// marshalled output.
type FixupPolicy int

const (
	// FixupsCircularAndNonPrimitiveDuplicates emits fixups for cycles and
	// for repeated non-primitive values. This is the default.
	FixupsCircularAndNonPrimitiveDuplicates FixupPolicy = iota
	// FixupsDuplicatesOnly emits fixups for repeated values but treats a
	// true cycle as a fatal marshal error.
	FixupsDuplicatesOnly
	// FixupsNone emits no fixups: duplicates are copied and cycles are
	// fatal.
	FixupsNone
)

func (p FixupPolicy) handlers() (CircularReferenceHandler, DuplicateHandler) {
	switch p {
	case FixupsDuplicatesOnly:
		return errorOnCircular{}, fixupDuplicates{}
	case FixupsNone:
		return errorOnCircular{}, copyDuplicates{}
	default:
		return fixupCircular{}, fixupNonPrimitiveDuplicates{}
	}
}

// flatIndexPrefix starts every flat-mode object token; the full token is
// the prefix followed by the object's discovery ordinal.
const flatIndexPrefix = "_"

// isFlatIndex reports whether a decoded JSON value is a flat-mode object
// token of the form "_1", "_2", ...
func isFlatIndex(v any) bool {
	s, ok := v.(string)
	if !ok || len(s) < 2 || s[:1] != flatIndexPrefix {
		return false
	}

	_, err := strconv.Atoi(s[1:])

	return err == nil
}

// SerializerState is the per-call scratchpad of a marshal or unmarshal
// pass: the identity map of processed objects, the location stack of the
// current descent and the accumulated fixups. A state belongs to exactly
// one call and is never shared across goroutines.
type SerializerState struct {
	ser *ObjectSerializer

	// marshal side
	processed map[identityKey]*ProcessedObject
	stack     []*ProcessedObject
	path      Path
	fixups    []Fixup
	circular  CircularReferenceHandler
	dupes     DuplicateHandler

	// flat mode
	flat        bool
	flatOrder   []*ProcessedObject
	flatCounter int

	// unmarshal side: wire tree node identity -> restored instance
	restored map[identityKey]any
	// trial unmarshal visit guard for cyclic request trees
	visiting map[identityKey]struct{}
}

func newSerializerState(ser *ObjectSerializer) *SerializerState {
	circ, dup := ser.fixupPolicy.handlers()

	return &SerializerState{
		ser:       ser,
		processed: make(map[identityKey]*ProcessedObject),
		restored:  make(map[identityKey]any),
		visiting:  make(map[identityKey]struct{}),
		circular:  circ,
		dupes:     dup,
		flat:      ser.flatMode,
	}
}

// Serializer returns the owning [ObjectSerializer]; concrete serializers
// use it to recurse into children.
func (s *SerializerState) Serializer() *ObjectSerializer {
	return s.ser
}

// Fixups returns the fixups accumulated so far, in discovery order.
func (s *SerializerState) Fixups() []Fixup {
	return s.fixups
}

func (s *SerializerState) addFixup(target, source Path) {
	s.fixups = append(s.fixups, Fixup{Target: target, Source: source})
	s.ser.log.Debug().Stringer("target", target).Stringer("source", source).Msg("fixup generated")
}

// checkValue inspects v before it is marshalled at position ref. If v was
// already processed it resolves the repeat according to the installed
// handlers and returns (replacement, true). Otherwise it returns
// (nil, false) and the caller must push/marshal/pop as usual.
func (s *SerializerState) checkValue(v any, ref PathElem) (any, bool, error) {
	key, ok := identityOf(v)
	if !ok {
		return nil, false, nil
	}

	po, seen := s.processed[key]
	if !seen {
		return nil, false, nil
	}

	current := append(s.path.Clone(), ref)

	if s.flat {
		// A repeat of a hoisted object collapses to its token. A cycle
		// through a value still being built gets its token assigned early;
		// repeats of values that stay inline (bare arrays) are copied.
		if po.flatIndex != "" {
			return po.flatIndex, true, nil
		}

		if po.onStack {
			s.assignFlatIndex(po)
			return po.flatIndex, true, nil
		}

		return nil, false, nil
	}

	if po.onStack {
		repl, err := s.circular.CircularReferenceFound(s, po.location, current, v)
		if err != nil {
			return nil, false, err
		}

		return repl, true, nil
	}

	repl, handled, err := s.dupes.DuplicateFound(s, po.location, current, v)
	if err != nil {
		return nil, false, err
	}

	return repl, handled, nil
}

// push records that marshalling is descending into v at position ref and
// returns the new [ProcessedObject] record. Every push must be paired with
// a pop.
func (s *SerializerState) push(v any, ref PathElem) *ProcessedObject {
	s.path = append(s.path, ref)

	po := &ProcessedObject{object: v, location: s.path.Clone(), onStack: true}

	if key, ok := identityOf(v); ok {
		s.processed[key] = po
	}

	// Flat tokens are handed out in discovery order, so an object-shaped
	// root of a response is always "_1".
	if s.flat && willHoist(v) {
		s.assignFlatIndex(po)
	}

	s.stack = append(s.stack, po)

	return po
}

// willHoist reports whether a value's wire form will be an object and is
// therefore hoisted to a top-level key in flat mode.
func willHoist(v any) bool {
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Map, reflect.Struct:
		return true
	case reflect.Pointer:
		return rv.Type().Elem().Kind() == reflect.Struct
	}

	return false
}

// pop unwinds the most recent push. The record stays in the identity map;
// only its ancestor flag is cleared.
func (s *SerializerState) pop() {
	last := len(s.stack) - 1
	s.stack[last].onStack = false
	s.stack = s.stack[:last]
	s.path = s.path[:len(s.path)-1]
}

// enterPayload extends the current location with the wrapper member that
// holds a collection's payload ("list", "set", "map") and re-points the
// record at it, so nested fixups reference positions inside the payload.
func (s *SerializerState) enterPayload(po *ProcessedObject, key string, payload any) {
	s.path = append(s.path, Field(key))
	po.location = s.path.Clone()
	s.setSerialized(po, payload)
}

// exitPayload unwinds enterPayload.
func (s *SerializerState) exitPayload() {
	s.path = s.path[:len(s.path)-1]
}

// assignFlatIndex hands the record its "_n" token in discovery order.
func (s *SerializerState) assignFlatIndex(po *ProcessedObject) {
	s.flatCounter++
	po.flatIndex = flatIndexPrefix + strconv.Itoa(s.flatCounter)
	s.flatOrder = append(s.flatOrder, po)
}

// hoist records the finished wire form of a flat-mode value and returns
// the token the parent should embed in its place. A value that already
// holds a token (handed out by push or forced by a cycle) is hoisted
// whatever its form; any other value only when its form is an object.
func (s *SerializerState) hoist(po *ProcessedObject, form any) (any, bool) {
	_, isObject := form.(map[string]any)
	if !isObject && po.flatIndex == "" {
		return nil, false
	}

	if po.flatIndex == "" {
		s.assignFlatIndex(po)
	}

	s.setSerialized(po, form)

	return po.flatIndex, true
}

// setSerialized records the final wire form of the value being processed.
// Composite serializers call this before populating children so that
// back-references into a partially built container resolve.
func (s *SerializerState) setSerialized(po *ProcessedObject, form any) {
	po.serialized = form
	po.haveForm = true
}

// registerRestored records that wire node j unmarshalled to instance v.
// Composite serializers call this before descending into children so that
// shared subtrees (and cycles created by request fixups) restore to shared
// instances.
func (s *SerializerState) registerRestored(j, v any) {
	if key, ok := identityOf(j); ok {
		s.restored[key] = v
	}
}

// lookupRestored returns the instance already restored for wire node j.
func (s *SerializerState) lookupRestored(j any) (any, bool) {
	key, ok := identityOf(j)
	if !ok {
		return nil, false
	}

	v, ok := s.restored[key]

	return v, ok
}

// Result shapes the outcome of a marshal pass according to the state's
// output mode: a plain successful result, one carrying fixups, or the flat
// form with hoisted objects.
func (s *SerializerState) Result(id any, json any) Result {
	if s.flat {
		return newFlatResult(id, json, s.flatOrder)
	}

	if len(s.fixups) > 0 {
		return newFixupsResult(id, json, s.fixups)
	}

	return NewSuccessfulResult(id, json)
}
