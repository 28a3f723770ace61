package jsorb

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectMatch(t *testing.T) {
	assert.Equal(t, 0, MatchOkay.Mismatch())
	assert.Equal(t, 1, MatchSimilar.Mismatch())
	assert.Equal(t, 2, MatchRoughlySimilar.Mismatch())

	assert.Equal(t, MatchRoughlySimilar, MatchOkay.Max(MatchRoughlySimilar))
	assert.Equal(t, MatchRoughlySimilar, MatchRoughlySimilar.Max(MatchSimilar))
	assert.Equal(t, MatchOkay, MatchOkay.Max(MatchOkay))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		value any
		want  Kind
	}{
		{value: nil, want: KindNull},
		{value: map[string]any{}, want: KindObject},
		{value: []any{}, want: KindArray},
		{value: "s", want: KindString},
		{value: json.Number("1"), want: KindNumber},
		{value: true, want: KindBool},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.value), "%T", tt.value)
	}
}

func TestIdentityOf(t *testing.T) {
	m := map[string]any{}
	k1, ok := identityOf(m)
	require.True(t, ok)

	k2, ok := identityOf(m)
	require.True(t, ok)
	assert.Equal(t, k1, k2)

	other := map[string]any{}
	k3, _ := identityOf(other)
	assert.NotEqual(t, k1, k3)

	// Scalars and structs have no identity.
	_, ok = identityOf("s")
	assert.False(t, ok)

	_, ok = identityOf(42)
	assert.False(t, ok)

	var nilMap map[string]any
	_, ok = identityOf(nilMap)
	assert.False(t, ok)
}

// A graph that cycles through a typed map exercises the payload path
// re-pointing: the fixup target must descend through the wrapper's "map"
// member.
func TestMapCyclePayloadPath(t *testing.T) {
	ser := newTestSerializer()

	type holder struct {
		M map[string]*holder `json:"m"`
	}

	h := &holder{M: map[string]*holder{}}
	h.M["me"] = h

	_, state, err := ser.Marshal(h, Field(resultField))
	require.NoError(t, err)

	fixups := state.Fixups()
	require.Len(t, fixups, 1)
	assert.Equal(t, []any{"result", "m", "map", "me"}, fixups[0].Target.Wire())
	assert.Equal(t, []any{"result"}, fixups[0].Source.Wire())
}

func TestFlatTokensInDiscoveryOrder(t *testing.T) {
	ser := newTestSerializer()
	ser.flatMode = true

	value := map[string]any{"foo": map[string]any{"bar": json.Number("1")}}

	form, state, err := ser.Marshal(value, Field(resultField))
	require.NoError(t, err)

	assert.Equal(t, "_1", form)

	out, err := state.Result(json.Number("1"), form).Output()
	require.NoError(t, err)

	root, ok := out["_1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "_2", root["foo"])

	leaf, ok := out["_2"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), leaf["bar"])
}

func TestFlatDuplicateCollapsesToToken(t *testing.T) {
	ser := newTestSerializer()
	ser.flatMode = true

	shared := map[string]any{"v": json.Number("7")}
	value := []any{shared, shared}

	form, state, err := ser.Marshal(value, Field(resultField))
	require.NoError(t, err)

	arr, ok := form.([]any)
	require.True(t, ok)
	assert.Equal(t, "_1", arr[0])
	assert.Equal(t, "_1", arr[1])

	out, err := state.Result(nil, form).Output()
	require.NoError(t, err)
	assert.Contains(t, out, "_1")
	assert.NotContains(t, out, "_2")
}

func TestDuplicatesOnlyPolicyRejectsCycles(t *testing.T) {
	ser := newTestSerializer()
	ser.fixupPolicy = FixupsDuplicatesOnly

	a := &node{Name: "a"}
	a.Next = a

	_, _, err := ser.Marshal(a, Field(resultField))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularReference)

	// Plain duplicates still fix up.
	shared := &node{Name: "s"}

	_, state, err := ser.Marshal([]*node{shared, shared}, Field(resultField))
	require.NoError(t, err)
	assert.Len(t, state.Fixups(), 1)
}

func TestNilForTarget(t *testing.T) {
	v, err := nilForTarget(reflect.TypeOf((*node)(nil)))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = nilForTarget(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = nilForTarget(reflect.TypeOf(""))
	require.Error(t, err)
}
