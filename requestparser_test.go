package jsorb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMsg(t *testing.T, raw string) map[string]any {
	t.Helper()

	tree, err := decodeTree(json.RawMessage(raw))
	require.NoError(t, err)

	msg, ok := tree.(map[string]any)
	require.True(t, ok)

	return msg
}

func TestNestedParserAppliesFixups(t *testing.T) {
	msg := decodeMsg(t, `{
		"method": "x",
		"params": [{"name":"a","next":{"name":"b","next":null}}],
		"fixups": [[["params",0,"next","next"],["params",0]]]
	}`)

	args, err := NewNestedRequestParser().ParseParams(msg)
	require.NoError(t, err)
	require.Len(t, args, 1)

	a := args[0].(map[string]any)
	b := a["next"].(map[string]any)

	// The fixup aliased the root of the argument into b.next.
	back, ok := b["next"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", back["name"])

	// Identity, not a copy.
	b["probe"] = true
	_, probed := back["next"].(map[string]any)["probe"]
	assert.True(t, probed)
}

func TestNestedParserRejectsMalformedFixups(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not an array", raw: `{"params":[],"fixups":{}}`},
		{name: "entry not a pair", raw: `{"params":[],"fixups":[[["a"]]]}`},
		{name: "missing target", raw: `{"params":[{}],"fixups":[[["params",5],["params",0]]]}`},
		{name: "scalar descent", raw: `{"params":[1],"fixups":[[["params",0,"x"],["params",0]]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNestedRequestParser().ParseParams(decodeMsg(t, tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, errFixupMalformed)
		})
	}
}

func TestNestedParserWithoutParams(t *testing.T) {
	args, err := NewNestedRequestParser().ParseParams(decodeMsg(t, `{"method":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestFlatParserMaterializes(t *testing.T) {
	msg := decodeMsg(t, `{
		"method": "x",
		"params": ["_1"],
		"_1": {"name": "a", "child": "_2"},
		"_2": {"name": "b"}
	}`)

	args, err := NewFlatRequestParser().ParseParams(msg)
	require.NoError(t, err)
	require.Len(t, args, 1)

	a := args[0].(map[string]any)
	assert.Equal(t, "a", a["name"])

	child := a["child"].(map[string]any)
	assert.Equal(t, "b", child["name"])
}

func TestFlatParserHandlesCycles(t *testing.T) {
	msg := decodeMsg(t, `{
		"params": ["_1"],
		"_1": {"name": "a", "self": "_1"}
	}`)

	args, err := NewFlatRequestParser().ParseParams(msg)
	require.NoError(t, err)

	a := args[0].(map[string]any)

	self, ok := a["self"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", self["name"])

	// Same object, not a copy.
	a["probe"] = true
	_, probed := self["probe"]
	assert.True(t, probed)
}

func TestFlatParserMissingObject(t *testing.T) {
	_, err := NewFlatRequestParser().ParseParams(decodeMsg(t, `{"params":["_9"]}`))
	require.Error(t, err)
}

func TestFlatParserLeavesPlainStrings(t *testing.T) {
	args, err := NewFlatRequestParser().ParseParams(decodeMsg(t, `{"params":["_x","plain","_"]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"_x", "plain", "_"}, args)
}

func TestIsFlatIndex(t *testing.T) {
	assert.True(t, isFlatIndex("_1"))
	assert.True(t, isFlatIndex("_42"))
	assert.False(t, isFlatIndex("_"))
	assert.False(t, isFlatIndex("_x"))
	assert.False(t, isFlatIndex("plain"))
	assert.False(t, isFlatIndex(json.Number("1")))
}
