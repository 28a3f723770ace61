package jsorb

import (
	"strconv"
	"strings"
)

// PathElem is one step in the location of a value inside a marshalled tree:
// either an object member name or an array index.
type PathElem struct {
	name  string
	index int
	isIdx bool
}

// Field returns a [PathElem] addressing the object member name.
func Field(name string) PathElem {
	return PathElem{name: name}
}

// Index returns a [PathElem] addressing the array element i.
func Index(i int) PathElem {
	return PathElem{index: i, isIdx: true}
}

// IsIndex reports whether the element addresses an array position.
func (p PathElem) IsIndex() bool {
	return p.isIdx
}

// Wire returns the JSON form of the element: a string for member names, a
// number for indices. This is the component encoding used inside fixup
// path arrays.
func (p PathElem) Wire() any {
	if p.isIdx {
		return p.index
	}

	return p.name
}

func (p PathElem) String() string {
	if p.isIdx {
		return strconv.Itoa(p.index)
	}

	return p.name
}

// Path is the location of a value in a marshalled tree, root first.
type Path []PathElem

// Wire returns the JSON array form of the path.
func (p Path) Wire() []any {
	out := make([]any, len(p))
	for i, e := range p {
		out[i] = e.Wire()
	}

	return out
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)

	return out
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, e := range p {
		parts[i] = e.String()
	}

	return strings.Join(parts, ".")
}

// pathElemFromWire converts a decoded fixup path component back into a
// [PathElem]. Strings address object members, numbers address array
// indices.
func pathElemFromWire(v any) (PathElem, error) {
	switch c := v.(type) {
	case string:
		return Field(c), nil
	default:
		n, err := toInt(v)
		if err != nil {
			return PathElem{}, errFixupMalformed
		}

		return Index(n), nil
	}
}

// pathFromWire converts a decoded fixup path array into a [Path].
func pathFromWire(v any) (Path, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, errFixupMalformed
	}

	p := make(Path, 0, len(arr))

	for _, c := range arr {
		e, err := pathElemFromWire(c)
		if err != nil {
			return nil, err
		}

		p = append(p, e)
	}

	return p, nil
}
