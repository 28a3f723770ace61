package jsorb

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeDTO struct {
	X int `json:"x"`
}

func (safeDTO) DispatchSafe() {}

type plainDTO struct {
	X int `json:"x"`
}

func TestResolverRules(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register("com.example.Plain", reflect.TypeOf(plainDTO{}))
	registry.Register("com.example.Safe", reflect.TypeOf(safeDTO{}))
	registry.Register("com.example.Allowed", reflect.TypeOf(plainDTO{}))
	registry.Register("javax.swing.Thing", reflect.TypeOf(plainDTO{}))
	registry.Register("nodots", reflect.TypeOf(plainDTO{}))

	cr := NewClassResolver(registry)
	cr.Allow("com.example.Allowed")

	tests := []struct {
		name     string
		class    string
		resolves bool
	}{
		{name: "empty", class: "", resolves: false},
		{name: "too long", class: strings.Repeat("a", 300), resolves: false},
		{name: "default package", class: "nodots", resolves: false},
		{name: "allow listed", class: "com.example.Allowed", resolves: true},
		{name: "registered but not allowed", class: "com.example.Plain", resolves: false},
		{name: "marker interface opts in", class: "com.example.Safe", resolves: true},
		{name: "disallowed prefix javax", class: "javax.swing.Thing", resolves: false},
		{name: "disallowed prefix sun", class: "sun.misc.Unsafe", resolves: false},
		{name: "unknown", class: "com.example.Missing", resolves: false},
		{name: "builtin date", class: "java.util.Date", resolves: true},
		{name: "builtin map", class: "java.util.HashMap", resolves: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ := cr.TryResolve(tt.class)
			if tt.resolves {
				assert.NotNil(t, typ)
			} else {
				assert.Nil(t, typ)
			}
		})
	}
}

func TestResolverArraySyntax(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register("com.example.Elem", reflect.TypeOf(plainDTO{}))

	cr := NewClassResolver(registry)
	cr.Allow("com.example.Elem")

	assert.NotNil(t, cr.TryResolve("[Lcom.example.Elem;"))
	assert.NotNil(t, cr.TryResolve("[[Lcom.example.Elem;"))
	assert.Nil(t, cr.TryResolve("[Lcom.example.Other;"))
}

func TestResolverCaches(t *testing.T) {
	registry := NewTypeRegistry()
	cr := NewClassResolver(registry)

	// Negative first: unknown name is denied and cached.
	assert.Nil(t, cr.TryResolve("com.example.Late"))
	_, denied := cr.denied.Get("com.example.Late")
	assert.True(t, denied)

	// Positive results land in the resolved map.
	require.NotNil(t, cr.TryResolve("java.util.Date"))
	_, hit := cr.resolved["java.util.Date"]
	assert.True(t, hit)
}

func TestResolveOrError(t *testing.T) {
	cr := NewClassResolver(NewTypeRegistry())

	_, err := cr.Resolve("com.example.Nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnmarshal)
}
