package jsorb

import (
	"reflect"
	"time"
)

// timeField carries the instant inside a marshalled date wrapper.
const timeField = "time"

var timeType = reflect.TypeOf(time.Time{})

// dateSerializer maps [time.Time] to the wire form
//
//	{"javaClass":"java.util.Date","time":<epoch millis>}
//
// Unmarshalling dispatches on the hint: the plain date name and the three
// temporal subtype names all restore to [time.Time]; any other hint fails.
type dateSerializer struct{}

func (dateSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{timeType}
}

func (dateSerializer) JSONKinds() []Kind {
	return []Kind{KindObject}
}

func (d dateSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, d.JSONKinds()) {
		return false
	}

	return src == nil || src == timeType || src == reflect.PointerTo(timeType)
}

func (dateSerializer) Marshal(state *SerializerState, _ *ProcessedObject, v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		p, okp := v.(*time.Time)
		if !okp {
			return nil, marshalErr("%T is not a time", v)
		}

		t = *p
	}

	obj := map[string]any{timeField: t.UnixMilli()}

	if state.Serializer().MarshalClassHints() {
		obj[classHintField] = classNameDate
	}

	return obj, nil
}

// dateWrapper pulls the hint and instant out of a wire object, failing on
// hints that are not a known temporal name.
func dateWrapper(j any) (int64, error) {
	obj, ok := j.(map[string]any)
	if !ok {
		return 0, unmarshalErr("%v is not a date", KindOf(j))
	}

	if hint, present := obj[classHintField].(string); present {
		switch hint {
		case classNameDate, classNameTimestamp, classNameSQLDate, classNameSQLTime:
		default:
			return 0, unmarshalErr("%q is not a date class", hint)
		}
	}

	millis, ok := obj[timeField]
	if !ok {
		return 0, unmarshalErr("date missing %q member", timeField)
	}

	n, err := toInt(millis)
	if err != nil {
		return 0, unmarshalErr("date %q member is not a number", timeField)
	}

	return int64(n), nil
}

func (dateSerializer) TryUnmarshal(_ *SerializerState, _ reflect.Type, j any) (ObjectMatch, error) {
	if _, err := dateWrapper(j); err != nil {
		return MatchOkay, err
	}

	return MatchOkay, nil
}

func (dateSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	millis, err := dateWrapper(j)
	if err != nil {
		return nil, err
	}

	t := time.UnixMilli(millis).UTC()

	if target != nil && target.Kind() == reflect.Pointer {
		return &t, nil
	}

	return t, nil
}
