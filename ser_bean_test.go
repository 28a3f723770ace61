package jsorb

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	Street string `json:"street"`
	City   string `json:"city"`
}

type person struct {
	Name    string   `json:"name"`
	Age     int      `json:"age"`
	Home    *address `json:"home"`
	private string
}

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next"`
}

func TestBeanRoundtrip(t *testing.T) {
	ser := newTestSerializer()

	p := &person{Name: "ada", Age: 36, Home: &address{Street: "x", City: "y"}, private: "hidden"}

	form, _, err := ser.Marshal(p, Field(resultField))
	require.NoError(t, err)

	obj, ok := form.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ada", obj["name"])
	assert.NotContains(t, obj, "private")

	// Over the wire and back.
	raw, err := json.Marshal(form)
	require.NoError(t, err)

	tree, err := decodeTree(raw)
	require.NoError(t, err)

	state := ser.NewState()

	back, err := ser.UnmarshalValue(state, reflect.TypeOf(&person{}), tree)
	require.NoError(t, err)

	bp, ok := back.(*person)
	require.True(t, ok)
	assert.Equal(t, p.Name, bp.Name)
	assert.Equal(t, p.Age, bp.Age)
	require.NotNil(t, bp.Home)
	assert.Equal(t, *p.Home, *bp.Home)
}

func TestBeanClassHint(t *testing.T) {
	registry := NewTypeRegistry()
	ser := newObjectSerializer(registry, NewClassResolver(registry))
	ser.SetMarshalClassHints(true)

	registry.Register("test.Person", reflect.TypeOf(person{}))

	form, _, err := ser.Marshal(&person{Name: "ada"}, Field(resultField))
	require.NoError(t, err)

	obj := form.(map[string]any)
	assert.Equal(t, "test.Person", obj[classHintField])
}

func TestBeanUnknownMembersIgnored(t *testing.T) {
	ser := newTestSerializer()
	state := ser.NewState()

	back, err := ser.UnmarshalValue(state, reflect.TypeOf(&address{}), map[string]any{
		"street":  "s",
		"unknown": "zzz",
	})
	require.NoError(t, err)
	assert.Equal(t, &address{Street: "s"}, back)
}

func TestBeanTryUnmarshalCountsUnmatched(t *testing.T) {
	ser := newTestSerializer()
	state := ser.NewState()

	perfect, err := ser.TryUnmarshalValue(state, reflect.TypeOf(&address{}), map[string]any{
		"street": "s",
		"city":   "c",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, perfect.Mismatch())

	sloppy, err := ser.TryUnmarshalValue(state, reflect.TypeOf(&address{}), map[string]any{
		"street": "s",
		"bogus":  "b",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sloppy.Mismatch())
}

func TestCycleProducesSingleFixup(t *testing.T) {
	ser := newTestSerializer()

	a := &node{Name: "a"}
	b := &node{Name: "b"}
	a.Next = b
	b.Next = a

	form, state, err := ser.Marshal(a, Field(resultField))
	require.NoError(t, err)

	fixups := state.Fixups()
	require.Len(t, fixups, 1)
	assert.Equal(t, []any{"result", "next", "next"}, fixups[0].Target.Wire())
	assert.Equal(t, []any{"result"}, fixups[0].Source.Wire())

	// The cycle position itself marshals as null until fixed up.
	obj := form.(map[string]any)
	inner := obj["next"].(map[string]any)
	assert.Nil(t, inner["next"])
}

func TestCycleFatalWithoutFixups(t *testing.T) {
	ser := newTestSerializer()
	ser.fixupPolicy = FixupsNone

	a := &node{Name: "a"}
	a.Next = a

	_, _, err := ser.Marshal(a, Field(resultField))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularReference)
}

func TestDuplicatePolicies(t *testing.T) {
	shared := &node{Name: "shared"}
	value := []*node{shared, shared}

	t.Run("non-primitive duplicates fix up", func(t *testing.T) {
		ser := newTestSerializer()

		_, state, err := ser.Marshal(value, Field(resultField))
		require.NoError(t, err)

		fixups := state.Fixups()
		require.Len(t, fixups, 1)
		assert.Equal(t, []any{"result", 1}, fixups[0].Target.Wire())
		assert.Equal(t, []any{"result", 0}, fixups[0].Source.Wire())
	})

	t.Run("no fixups copies duplicates", func(t *testing.T) {
		ser := newTestSerializer()
		ser.fixupPolicy = FixupsNone

		form, state, err := ser.Marshal(value, Field(resultField))
		require.NoError(t, err)
		assert.Empty(t, state.Fixups())

		arr := form.([]any)
		assert.Equal(t, arr[0], arr[1])
	})
}

// roundtripThroughWire encodes a marshalled result plus its fixups the way
// a response carries them, re-decodes, applies the fixups and unmarshals.
func roundtripThroughWire(t *testing.T, ser *ObjectSerializer, form any, fixups []Fixup, target reflect.Type) any {
	t.Helper()

	msg := map[string]any{resultField: form}
	if len(fixups) > 0 {
		msg[fixupsField] = fixups
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	tree, err := decodeTree(raw)
	require.NoError(t, err)

	resp, ok := tree.(map[string]any)
	require.True(t, ok)

	result, err := NewNestedRequestParser().ParseMember(resp, resultField)
	require.NoError(t, err)

	state := ser.NewState()

	back, err := ser.UnmarshalValue(state, target, result)
	require.NoError(t, err)

	return back
}

func TestCycleRoundtrip(t *testing.T) {
	ser := newTestSerializer()

	a := &node{Name: "a"}
	b := &node{Name: "b"}
	a.Next = b
	b.Next = a

	form, state, err := ser.Marshal(a, Field(resultField))
	require.NoError(t, err)

	back := roundtripThroughWire(t, ser, form, state.Fixups(), reflect.TypeOf(&node{}))

	bn, ok := back.(*node)
	require.True(t, ok)
	assert.Equal(t, "a", bn.Name)
	require.NotNil(t, bn.Next)
	assert.Equal(t, "b", bn.Next.Name)

	// The graph is a true cycle again, same identity structure.
	assert.Same(t, bn, bn.Next.Next)
}

func TestDuplicateIdentityPreserved(t *testing.T) {
	ser := newTestSerializer()

	shared := &node{Name: "shared"}
	value := []*node{shared, shared}

	form, state, err := ser.Marshal(value, Field(resultField))
	require.NoError(t, err)

	back := roundtripThroughWire(t, ser, form, state.Fixups(), reflect.TypeOf([]*node(nil)))

	arr, ok := back.([]*node)
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Same(t, arr[0], arr[1])
}
