package jsorb

import (
	"reflect"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// beanField is one accessor pair discovered by bean analysis.
type beanField struct {
	name     string
	index    []int
	typ      reflect.Type
	readable bool
	writable bool
}

// beanInfo is the cached analysis of one struct type.
type beanInfo struct {
	typ    reflect.Type
	fields []beanField
	byName map[string]*beanField
}

// beanAnalyzer caches per-type field analysis. Analysis is one shot;
// concurrent first requests for the same type are deduplicated.
type beanAnalyzer struct {
	cache  sync.Map // reflect.Type -> *beanInfo
	flight singleflight.Group
}

func (ba *beanAnalyzer) analyze(typ reflect.Type) *beanInfo {
	if info, ok := ba.cache.Load(typ); ok {
		return info.(*beanInfo)
	}

	v, _, _ := ba.flight.Do(typ.String(), func() (any, error) {
		if info, ok := ba.cache.Load(typ); ok {
			return info, nil
		}

		info := analyzeStruct(typ)
		ba.cache.Store(typ, info)

		return info, nil
	})

	return v.(*beanInfo)
}

// analyzeStruct walks the exported fields of a struct type, honoring json
// tags, flattening anonymous embedded structs.
func analyzeStruct(typ reflect.Type) *beanInfo {
	info := &beanInfo{typ: typ, byName: make(map[string]*beanField)}

	var walk func(t reflect.Type, prefix []int)

	walk = func(t reflect.Type, prefix []int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			if !f.IsExported() {
				continue
			}

			index := append(append([]int(nil), prefix...), i)

			if f.Anonymous && f.Type.Kind() == reflect.Struct {
				walk(f.Type, index)
				continue
			}

			name := f.Name

			if tag, ok := f.Tag.Lookup("json"); ok {
				tagName, _, _ := strings.Cut(tag, ",")
				if tagName == "-" {
					continue
				}

				if tagName != "" {
					name = tagName
				}
			}

			bf := beanField{name: name, index: index, typ: f.Type, readable: true, writable: true}
			info.fields = append(info.fields, bf)
		}
	}

	walk(typ, nil)

	// Index after the walk: appending above may reallocate the slice.
	for i := range info.fields {
		info.byName[info.fields[i].name] = &info.fields[i]
	}

	return info
}

// beanSerializer is the structural fallback for concrete struct types: it
// marshals readable fields as object members and restores instances
// through a zero value and the writable fields present in the JSON.
type beanSerializer struct {
	os       *ObjectSerializer
	analyzer beanAnalyzer
}

func (*beanSerializer) SerializableTypes() []reflect.Type {
	return nil
}

func (*beanSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (b *beanSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, b.JSONKinds()) {
		return false
	}

	if src == nil {
		return false
	}

	return structType(src) != nil
}

// structType returns the underlying struct type of t (itself or its
// pointee), or nil.
func structType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Struct {
		return t
	}

	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		return t.Elem()
	}

	return nil
}

func (b *beanSerializer) Marshal(state *SerializerState, po *ProcessedObject, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}

	info := b.analyzer.analyze(rv.Type())

	out := make(map[string]any, len(info.fields)+1)
	state.setSerialized(po, out)

	if b.os.MarshalClassHints() {
		out[classHintField] = b.os.Registry().NameFor(reflect.TypeOf(v))
	}

	for i := range info.fields {
		f := &info.fields[i]
		if !f.readable {
			continue
		}

		fv, err := state.Serializer().MarshalValue(state, rv.FieldByIndex(f.index).Interface(), Field(f.name))
		if err != nil {
			return nil, err
		}

		out[f.name] = fv
	}

	return out, nil
}

func (b *beanSerializer) TryUnmarshal(state *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return MatchOkay, unmarshalErr("%v is not an object", KindOf(j))
	}

	st := structType(target)
	if st == nil {
		return MatchOkay, unmarshalErr("%s is not a bean type", target)
	}

	info := b.analyzer.analyze(st)

	match := MatchOkay
	unmatched := 0

	for name, member := range obj {
		if name == classHintField {
			continue
		}

		f, present := info.byName[name]
		if !present || !f.writable {
			unmatched++
			continue
		}

		fm, err := state.Serializer().TryUnmarshalValue(state, f.typ, member)
		if err != nil {
			return MatchOkay, err
		}

		match = match.Max(fm)
	}

	return match.Max(ObjectMatch{unmatched}), nil
}

func (b *beanSerializer) Unmarshal(state *SerializerState, target reflect.Type, j any) (any, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return nil, unmarshalErr("%v is not an object", KindOf(j))
	}

	st := structType(target)
	if st == nil {
		return nil, unmarshalErr("%s is not a bean type", target)
	}

	info := b.analyzer.analyze(st)

	ptr := reflect.New(st)

	// Register the instance before filling fields so a fixed-up request
	// tree that points a member back at this object restores the cycle.
	wantPtr := target.Kind() == reflect.Pointer
	if wantPtr {
		state.registerRestored(j, ptr.Interface())
	}

	elem := ptr.Elem()

	for name, member := range obj {
		if name == classHintField {
			continue
		}

		f, present := info.byName[name]
		if !present || !f.writable {
			continue
		}

		fv, err := state.Serializer().UnmarshalValue(state, f.typ, member)
		if err != nil {
			return nil, unmarshalErr("property %q: %v", name, err)
		}

		if fv == nil {
			continue
		}

		elem.FieldByIndex(f.index).Set(reflect.ValueOf(fv))
	}

	if wantPtr {
		return ptr.Interface(), nil
	}

	return elem.Interface(), nil
}
