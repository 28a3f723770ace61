package jsorb

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func cand(params ...reflect.Type) candidate {
	return candidate{callable: &callable{paramTypes: params, wireParams: params}}
}

func TestPrimitiveRankingsTable(t *testing.T) {
	// The order is fixed: narrower integers beat wider ones, integers
	// beat floats, everything beats bool.
	assert.Less(t, primitiveRankings[reflect.Int8], primitiveRankings[reflect.Int16])
	assert.Less(t, primitiveRankings[reflect.Int16], primitiveRankings[reflect.Int32])
	assert.Less(t, primitiveRankings[reflect.Int32], primitiveRankings[reflect.Int64])
	assert.Less(t, primitiveRankings[reflect.Int64], primitiveRankings[reflect.Float32])
	assert.Less(t, primitiveRankings[reflect.Float32], primitiveRankings[reflect.Float64])
	assert.Less(t, primitiveRankings[reflect.Float64], primitiveRankings[reflect.Bool])
}

type animal interface {
	Sound() string
}

type dog struct{}

func (dog) Sound() string { return "woof" }

func TestBetterSignature(t *testing.T) {
	intType := reflect.TypeOf(int32(0))
	floatType := reflect.TypeOf(float64(0))
	strType := reflect.TypeOf("")

	t.Run("narrower primitive wins", func(t *testing.T) {
		a := cand(intType)
		b := cand(floatType)
		assert.Same(t, a.callable, betterSignature(a, b).callable)
		assert.Same(t, a.callable, betterSignature(b, a).callable)
	})

	t.Run("assignable type is more specific", func(t *testing.T) {
		concrete := cand(reflect.TypeOf(dog{}))
		iface := cand(reflect.TypeOf((*animal)(nil)).Elem())
		assert.Same(t, concrete.callable, betterSignature(concrete, iface).callable)
		assert.Same(t, concrete.callable, betterSignature(iface, concrete).callable)
	})

	t.Run("tie keeps first candidate", func(t *testing.T) {
		a := cand(intType, floatType)
		b := cand(floatType, intType)
		// One point each: first candidate wins the tie.
		assert.Same(t, a.callable, betterSignature(a, b).callable)
	})

	t.Run("unrelated types favor the first side", func(t *testing.T) {
		a := cand(strType)
		b := cand(reflect.TypeOf(dog{}))
		assert.Same(t, a.callable, betterSignature(a, b).callable)
	})

	t.Run("majority of positions decides", func(t *testing.T) {
		a := cand(intType, intType, floatType)
		b := cand(floatType, floatType, intType)
		assert.Same(t, a.callable, betterSignature(a, b).callable)
	})
}

func TestParseEncodedMethod(t *testing.T) {
	tests := []struct {
		encoded  string
		class    string
		method   string
		objectID int64
	}{
		{encoded: "test.echo", class: "test", method: "echo"},
		{encoded: "Point.$constructor", class: "Point", method: "$constructor"},
		{encoded: ".obj[42].inc", class: ".obj[42]", method: "inc", objectID: 42},
		{encoded: "system.listMethods", class: "system", method: "listMethods"},
		{encoded: "bare", class: "bare", method: ""},
	}

	for _, tt := range tests {
		t.Run(tt.encoded, func(t *testing.T) {
			id, class, method := parseEncodedMethod(tt.encoded)
			assert.Equal(t, tt.objectID, id)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.method, method)
		})
	}
}
