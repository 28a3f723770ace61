package jsorb

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type beanA struct {
	Name  string `json:"name"`
	BeanB *beanB `json:"beanB"`
}

type beanB struct {
	Name  string `json:"name"`
	BeanA *beanA `json:"beanA"`
}

type testService struct{}

func (testService) Echo(s string) string { return s }

func (testService) EchoInts(v []int) []int { return v }

func (testService) ABean() *beanA {
	a := &beanA{Name: "a"}
	b := &beanB{Name: "b", BeanA: a}
	a.BeanB = b

	return a
}

func (testService) Fail() error { return fmt.Errorf("kaboom") }

func (testService) Boom() { panic("boom") }

func callRaw(t *testing.T, b *Bridge, raw string) map[string]any {
	t.Helper()

	result := b.Call(context.Background(), nil, []byte(raw))

	out, err := json.Marshal(result)
	require.NoError(t, err)

	tree, err := decodeTree(out)
	require.NoError(t, err)

	resp, ok := tree.(map[string]any)
	require.True(t, ok)

	return resp
}

func errorCode(t *testing.T, resp map[string]any) int64 {
	t.Helper()

	obj, ok := resp[errorField].(map[string]any)
	require.True(t, ok, "response has no error member: %v", resp)

	code, err := toInt(obj["code"])
	require.NoError(t, err)

	return int64(code)
}

func newTestBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()

	b := NewBridge(opts...)
	b.RegisterObject("test", testService{})

	return b
}

func TestCallEcho(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.echo","id":1,"params":["hello"]}`)

	assert.Equal(t, json.Number("1"), resp[idField])
	assert.Equal(t, "hello", resp[resultField])
	assert.NotContains(t, resp, errorField)
}

func TestCallEchoIntArray(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.echoInts","id":2,"params":[[1,2,3]]}`)

	assert.Equal(t, json.Number("2"), resp[idField])
	assert.Equal(t, []any{json.Number("1"), json.Number("2"), json.Number("3")}, resp[resultField])
}

func TestCallBeanCycle(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.aBean","id":3,"params":[]}`)

	fixups, ok := resp[fixupsField].([]any)
	require.True(t, ok, "no fixups in %v", resp)
	require.Len(t, fixups, 1)

	pair := fixups[0].([]any)
	assert.Equal(t, []any{"result", "beanB", "beanA"}, pair[0])
	assert.Equal(t, []any{"result"}, pair[1])
}

func TestCallUnknownMethod(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.missing","id":4,"params":[]}`)

	assert.Equal(t, json.Number("4"), resp[idField])
	assert.Equal(t, CodeErrNoMethod, errorCode(t, resp))
}

func TestCallDisallowedClassHint(t *testing.T) {
	b := newTestBridge(t)

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("take", func(m map[string]any) string { return "ok" })
	require.NoError(t, b.RegisterClass("Sink", def))

	resp := callRaw(t, b, `{"method":"Sink.take","id":5,"params":[{"javaClass":"evil.Clazz","x":1}]}`)

	assert.Equal(t, CodeErrUnmarshal, errorCode(t, resp))
}

func TestOverloadSelection(t *testing.T) {
	b := NewBridge()

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("echo", func(n float64) string { return "number" })
	def.Static("echo", func(v bool) string { return "boolean" })
	require.NoError(t, b.RegisterClass("Over", def))

	numResp := callRaw(t, b, `{"method":"Over.echo","id":6,"params":[1]}`)
	assert.Equal(t, "number", numResp[resultField])

	boolResp := callRaw(t, b, `{"method":"Over.echo","id":7,"params":[true]}`)
	assert.Equal(t, "boolean", boolResp[resultField])
}

func TestOverloadPrimitiveRankingTieBreak(t *testing.T) {
	b := NewBridge()

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("add", func(n int32) string { return "int32" })
	def.Static("add", func(n float64) string { return "float64" })
	require.NoError(t, b.RegisterClass("Rank", def))

	resp := callRaw(t, b, `{"method":"Rank.add","id":8,"params":[1]}`)
	assert.Equal(t, "int32", resp[resultField])
}

func TestOverloadMonotonicity(t *testing.T) {
	b := NewBridge()

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("m", func(s string) string { return "string" })
	def.Static("m", func(v bool) string { return "bool" })
	require.NoError(t, b.RegisterClass("Mono", def))

	// "hello" is OKAY for string, ROUGHLY_SIMILAR for bool.
	resp := callRaw(t, b, `{"method":"Mono.m","id":9,"params":["hello"]}`)
	assert.Equal(t, "string", resp[resultField])
}

func TestRemoteException(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.fail","id":10,"params":[]}`)

	assert.Equal(t, CodeRemoteException, errorCode(t, resp))

	obj := resp[errorField].(map[string]any)
	assert.Equal(t, "kaboom", obj["data"])
}

func TestHandlerPanicBecomesRemoteFailure(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":"test.boom","id":11,"params":[]}`)

	assert.Equal(t, CodeRemoteException, errorCode(t, resp))
}

func TestParseFailure(t *testing.T) {
	b := newTestBridge(t)

	resp := callRaw(t, b, `{"method":`)

	assert.Equal(t, CodeErrParse, errorCode(t, resp))
	assert.Nil(t, resp[idField])
}

func TestConstructor(t *testing.T) {
	b := NewBridge()

	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	def := NewClassDef(reflect.TypeOf(point{}))
	def.Constructor(func(x, y int) *point { return &point{X: x, Y: y} })
	require.NoError(t, b.RegisterClass("Point", def))

	resp := callRaw(t, b, `{"method":"Point.$constructor","id":12,"params":[3,4]}`)

	obj, ok := resp[resultField].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), obj["x"])

	missing := callRaw(t, b, `{"method":"Point.$constructor","id":13,"params":[1,2,3]}`)
	assert.Equal(t, CodeErrNoConstructor, errorCode(t, missing))
}

func TestSystemListMethods(t *testing.T) {
	b := newTestBridge(t)

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("go", func() string { return "" })
	require.NoError(t, b.RegisterClass("Cls", def))

	resp := callRaw(t, b, `{"method":"system.listMethods","id":14,"params":[]}`)

	list, ok := resp[resultField].([]any)
	require.True(t, ok)

	assert.Contains(t, list, "test.echo")
	assert.Contains(t, list, "Cls.go")

	// Sorted.
	prev := ""
	for _, v := range list {
		s := v.(string)
		assert.LessOrEqual(t, prev, s)
		prev = s
	}
}

type counter struct {
	n int
}

func (c *counter) Inc() int {
	c.n++
	return c.n
}

type refService struct {
	c *counter
}

func (s *refService) Counter() *counter { return s.c }

func TestCallableReferenceFlow(t *testing.T) {
	b := NewBridge()
	b.EnableReferences()
	require.NoError(t, b.RegisterCallableReference("test.Counter", reflect.TypeOf(&counter{})))

	b.RegisterObject("ref", &refService{c: &counter{}})

	resp := callRaw(t, b, `{"method":"ref.counter","id":20,"params":[]}`)

	handle, ok := resp[resultField].(map[string]any)
	require.True(t, ok, "expected a reference handle, got %v", resp[resultField])
	assert.Equal(t, rpcTypeCallableReference, handle[rpcTypeField])
	assert.Equal(t, "test.Counter", handle[classHintField])

	id, err := toInt(handle[objectIDField])
	require.NoError(t, err)
	require.NotZero(t, id)

	inc := callRaw(t, b, fmt.Sprintf(`{"method":".obj[%d].inc","id":21,"params":[]}`, id))
	assert.Equal(t, json.Number("1"), inc[resultField])

	inc2 := callRaw(t, b, fmt.Sprintf(`{"method":".obj[%d].inc","id":22,"params":[]}`, id))
	assert.Equal(t, json.Number("2"), inc2[resultField])
}

func TestReferenceStoreBoundedAndInvalidated(t *testing.T) {
	b := NewBridge(WithReferenceStoreSize(2))
	b.EnableReferences()

	c1, c2, c3 := &counter{}, &counter{}, &counter{}

	id1, err := b.addReference(c1)
	require.NoError(t, err)

	id2, err := b.addReference(c2)
	require.NoError(t, err)

	id3, err := b.addReference(c3)
	require.NoError(t, err)

	// Oldest evicted.
	_, ok := b.GetReference(id1)
	assert.False(t, ok)

	_, ok = b.GetReference(id2)
	assert.True(t, ok)

	b.DeleteReference(id2)

	_, ok = b.GetReference(id2)
	assert.False(t, ok)

	_, ok = b.GetReference(id3)
	assert.True(t, ok)

	b.ClearReferences()

	_, ok = b.GetReference(id3)
	assert.False(t, ok)
}

func TestReferenceIdentityStable(t *testing.T) {
	b := NewBridge()
	b.EnableReferences()

	c := &counter{}

	id1, err := b.addReference(c)
	require.NoError(t, err)

	id2, err := b.addReference(c)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestFlatModeOutput(t *testing.T) {
	b := NewBridge(WithFlatMode())

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("tree", func() map[string]any {
		return map[string]any{"foo": map[string]any{"bar": 1}}
	})
	require.NoError(t, b.RegisterClass("Flat", def))

	resp := callRaw(t, b, `{"method":"Flat.tree","id":30,"params":[]}`)

	assert.Equal(t, "_1", resp[resultField])

	root, ok := resp["_1"].(map[string]any)
	require.True(t, ok, "missing _1 in %v", resp)
	assert.Equal(t, "_2", root["foo"])

	leaf, ok := resp["_2"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), leaf["bar"])
}

func TestFlatModeRequestParsing(t *testing.T) {
	b := NewBridge(WithFlatMode())
	b.RegisterObject("test", testService{})

	resp := callRaw(t, b, `{"method":"test.echoInts","id":31,"params":[[1,2]]}`)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, resp[resultField])
}

func TestSessionBridgeDelegation(t *testing.T) {
	global := NewBridge()
	global.RegisterObject("test", testService{})

	session := NewBridge(WithParent(global))

	resp := callRaw(t, session, `{"method":"test.echo","id":40,"params":["up"]}`)
	assert.Equal(t, "up", resp[resultField])
}

func TestLocalArgContextInjection(t *testing.T) {
	b := NewBridge()

	type key struct{}

	def := NewClassDef(reflect.TypeOf(struct{}{}))
	def.Static("who", func(ctx context.Context, name string) string {
		v, _ := ctx.Value(key{}).(string)
		return v + name
	})
	require.NoError(t, b.RegisterClass("Ctx", def))

	ctx := context.WithValue(context.Background(), key{}, "hi ")

	result := b.Call(ctx, nil, []byte(`{"method":"Ctx.who","id":50,"params":["bob"]}`))

	out, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"hi bob"`)
}

func TestCallbacks(t *testing.T) {
	b := newTestBridge(t)

	cb := &recordingCallback{}
	b.Callbacks().RegisterCallback(cb, reflect.TypeOf(""))

	result := b.Call(context.Background(), []any{"session-ctx"}, []byte(`{"method":"test.echo","id":60,"params":["x"]}`))

	_, ok := result.(*SuccessfulResult)
	assert.True(t, ok)
	assert.Equal(t, 1, cb.pre)
	assert.Equal(t, 1, cb.post)
}

func TestPreInvokeAbortsCall(t *testing.T) {
	b := newTestBridge(t)

	cb := &recordingCallback{preErr: fmt.Errorf("denied")}
	b.Callbacks().RegisterCallback(cb, reflect.TypeOf(""))

	resp := callRaw2(t, b, []any{"ctx"}, `{"method":"test.echo","id":61,"params":["x"]}`)
	assert.Equal(t, CodeRemoteException, errorCode(t, resp))
}

type recordingCallback struct {
	preErr error
	pre    int
	post   int
}

func (r *recordingCallback) PreInvoke(_ context.Context, _, _ any, _ string, _ []any) error {
	r.pre++
	return r.preErr
}

func (r *recordingCallback) PostInvoke(_ context.Context, _, _ any, _ string, _ any, _ error) error {
	r.post++
	return nil
}

func callRaw2(t *testing.T, b *Bridge, contexts []any, raw string) map[string]any {
	t.Helper()

	result := b.Call(context.Background(), contexts, []byte(raw))

	out, err := json.Marshal(result)
	require.NoError(t, err)

	tree, err := decodeTree(out)
	require.NoError(t, err)

	return tree.(map[string]any)
}
