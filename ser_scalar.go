package jsorb

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// stringSerializer maps Go strings to JSON strings. Numeric and boolean
// wire values are accepted with a weaker match so overloads preferring a
// real string still win.
type stringSerializer struct{}

func (stringSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeOf("")}
}

func (stringSerializer) JSONKinds() []Kind {
	return []Kind{KindString, KindNumber, KindBool}
}

func (s stringSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, s.JSONKinds()) {
		return false
	}

	return src == nil || src.Kind() == reflect.String
}

func (stringSerializer) Marshal(_ *SerializerState, _ *ProcessedObject, v any) (any, error) {
	return reflect.ValueOf(v).String(), nil
}

func (stringSerializer) TryUnmarshal(_ *SerializerState, _ reflect.Type, j any) (ObjectMatch, error) {
	switch j.(type) {
	case string:
		return MatchOkay, nil
	case json.Number, bool:
		return MatchRoughlySimilar, nil
	}

	return MatchOkay, unmarshalErr("%v is not a string", KindOf(j))
}

func (stringSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	var s string

	switch c := j.(type) {
	case string:
		s = c
	case json.Number:
		s = c.String()
	case bool:
		s = strconv.FormatBool(c)
	default:
		return nil, unmarshalErr("%v is not a string", KindOf(j))
	}

	if target == nil {
		return s, nil
	}

	out := reflect.New(target).Elem()
	out.SetString(s)

	return out.Interface(), nil
}

// booleanSerializer maps Go bools to JSON booleans. The exact strings
// "true" and "false" are a perfect match; any other string is only a rough
// one (it is still accepted for lax clients: "1" reads as true, anything
// else as false).
type booleanSerializer struct{}

func (booleanSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeOf(false)}
}

func (booleanSerializer) JSONKinds() []Kind {
	return []Kind{KindBool, KindString}
}

func (b booleanSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, b.JSONKinds()) {
		return false
	}

	return src == nil || src.Kind() == reflect.Bool
}

func (booleanSerializer) Marshal(_ *SerializerState, _ *ProcessedObject, v any) (any, error) {
	return reflect.ValueOf(v).Bool(), nil
}

func (booleanSerializer) TryUnmarshal(_ *SerializerState, _ reflect.Type, j any) (ObjectMatch, error) {
	switch c := j.(type) {
	case bool:
		return MatchOkay, nil
	case string:
		if c == "true" || c == "false" {
			return MatchOkay, nil
		}

		return MatchRoughlySimilar, nil
	}

	return MatchOkay, unmarshalErr("%v is not a boolean", KindOf(j))
}

func (booleanSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	var v bool

	switch c := j.(type) {
	case bool:
		v = c
	case string:
		v = c == "true" || c == "1"
	default:
		return nil, unmarshalErr("%v is not a boolean", KindOf(j))
	}

	if target == nil {
		return v, nil
	}

	out := reflect.New(target).Elem()
	out.SetBool(v)

	return out.Interface(), nil
}

// numberSerializer maps every Go numeric width to JSON numbers. Strings
// are parsed with the exact target width's parser, so fractional text
// never silently truncates into an integer target.
type numberSerializer struct{}

var jsonNumberType = reflect.TypeOf(json.Number(""))

func (numberSerializer) SerializableTypes() []reflect.Type {
	return []reflect.Type{jsonNumberType}
}

func (numberSerializer) JSONKinds() []Kind {
	return []Kind{KindNumber, KindString}
}

func (n numberSerializer) CanSerialize(src reflect.Type, kind Kind) bool {
	if !kindIn(kind, n.JSONKinds()) {
		return false
	}

	if src == nil {
		return true
	}

	if src == jsonNumberType {
		return true
	}

	switch src.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}

	return false
}

func (numberSerializer) Marshal(_ *SerializerState, _ *ProcessedObject, v any) (any, error) {
	if num, ok := v.(json.Number); ok {
		return num, nil
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return json.Number(strconv.FormatUint(rv.Uint(), 10)), nil
	default:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, marshalErr("%v is not representable in JSON", f)
		}

		return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), nil
	}
}

func (n numberSerializer) TryUnmarshal(_ *SerializerState, target reflect.Type, j any) (ObjectMatch, error) {
	if target == nil {
		target = jsonNumberType
	}

	text, isString, err := numberText(j)
	if err != nil {
		return MatchOkay, err
	}

	if _, err := parseNumber(target, text); err != nil {
		return MatchOkay, err
	}

	if isString {
		return MatchRoughlySimilar, nil
	}

	return MatchOkay, nil
}

func (numberSerializer) Unmarshal(_ *SerializerState, target reflect.Type, j any) (any, error) {
	if target == nil {
		target = jsonNumberType
	}

	text, _, err := numberText(j)
	if err != nil {
		return nil, err
	}

	return parseNumber(target, text)
}

// numberText extracts the textual number from a wire value.
func numberText(j any) (text string, fromString bool, err error) {
	switch c := j.(type) {
	case json.Number:
		return c.String(), false, nil
	case string:
		return c, true, nil
	default:
		return "", false, fmt.Errorf("%w: %v", errNotANumber, KindOf(j))
	}
}

// parseNumber parses text with the parser matching the exact target width.
func parseNumber(target reflect.Type, text string) (any, error) {
	if target == jsonNumberType {
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return nil, numErr(err)
		}

		return json.Number(text), nil
	}

	out := reflect.New(target).Elem()

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(text, 10, target.Bits())
		if err != nil {
			return nil, numErr(err)
		}

		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(text, 10, target.Bits())
		if err != nil {
			return nil, numErr(err)
		}

		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, target.Bits())
		if err != nil {
			return nil, numErr(err)
		}

		out.SetFloat(f)
	default:
		return nil, fmt.Errorf("%w: target %s", errNotANumber, target)
	}

	return out.Interface(), nil
}

func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
		return errNumberTooLarge
	}

	return errNotANumber
}

// toInt converts any wire numeric value to an int; used for array indices
// in fixup paths and object IDs in reference handles.
func toInt(v any) (int, error) {
	switch c := v.(type) {
	case json.Number:
		i, err := c.Int64()
		if err != nil {
			return 0, err
		}

		return int(i), nil
	case float64:
		return int(c), nil
	case int:
		return c, nil
	case int64:
		return int(c), nil
	default:
		return 0, fmt.Errorf("%w: %T", errNotANumber, v)
	}
}
