package jsorb

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackSession carries requests straight into a bridge, crossing real
// JSON bytes in both directions.
func loopbackSession(b *Bridge) Session {
	return SessionFunc(func(ctx context.Context, req map[string]any) (map[string]any, error) {
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}

		out, err := json.Marshal(b.Call(ctx, nil, raw))
		if err != nil {
			return nil, err
		}

		tree, err := decodeTree(out)
		if err != nil {
			return nil, err
		}

		return tree.(map[string]any), nil
	})
}

type graphService struct{}

func (graphService) Echo(s string) string { return s }

func (graphService) Nodes(n *node) int {
	// Count distinct nodes around the cycle.
	seen := map[*node]bool{}
	for cur := n; cur != nil && !seen[cur]; cur = cur.Next {
		seen[cur] = true
	}

	return len(seen)
}

func (graphService) Ring() *node {
	a := &node{Name: "a"}
	b := &node{Name: "b"}
	a.Next = b
	b.Next = a

	return a
}

func newGraphBridge() *Bridge {
	b := NewBridge()
	b.RegisterObject("graph", graphService{})
	b.RegisterType("test.Node", reflect.TypeOf(node{}))

	return b
}

func newGraphClient(b *Bridge) *Client {
	c := NewClient(loopbackSession(b))
	c.Serializer().Registry().Register("test.Node", reflect.TypeOf(node{}))
	c.Serializer().Resolver().Allow("test.Node")

	return c
}

func TestClientCall(t *testing.T) {
	c := newGraphClient(newGraphBridge())

	v, err := c.Call(context.Background(), "graph.echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestClientSendsFixupsForCyclicArguments(t *testing.T) {
	c := newGraphClient(newGraphBridge())

	a := &node{Name: "a"}
	b := &node{Name: "b"}
	a.Next = b
	b.Next = a

	var count int
	require.NoError(t, c.CallInto(context.Background(), &count, "graph.nodes", a))
	assert.Equal(t, 2, count)
}

func TestClientRestoresCyclicResult(t *testing.T) {
	c := newGraphClient(newGraphBridge())

	var ring *node
	require.NoError(t, c.CallInto(context.Background(), &ring, "graph.ring"))

	require.NotNil(t, ring)
	require.NotNil(t, ring.Next)
	assert.Same(t, ring, ring.Next.Next)
}

func TestClientErrorResponse(t *testing.T) {
	c := newGraphClient(newGraphBridge())

	_, err := c.Call(context.Background(), "graph.missing")
	require.Error(t, err)

	var er *ErrorResponse
	require.ErrorAs(t, err, &er)
	assert.Equal(t, CodeErrNoMethod, er.Code)
}

func TestClientServerURLRedirect(t *testing.T) {
	session := SessionFunc(func(_ context.Context, req map[string]any) (map[string]any, error) {
		return map[string]any{
			idField:        req[idField],
			resultField:    "ok",
			serverURLField: "http://elsewhere/jsonrpc",
		}, nil
	})

	c := NewClient(session)

	v, err := c.Call(context.Background(), "any.thing")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, "http://elsewhere/jsonrpc", c.ServerURL())
}

func TestClientPool(t *testing.T) {
	bridge := newGraphBridge()

	var opened atomic.Int32

	pool, err := NewClientPool(func(_ context.Context) (Session, error) {
		opened.Add(1)
		return loopbackSession(bridge), nil
	}, WithPoolSize(2), WithPoolClientOptions(func(c *Client) {
		c.Serializer().Registry().Register("test.Node", reflect.TypeOf(node{}))
		c.Serializer().Resolver().Allow("test.Node")
	}))
	require.NoError(t, err)

	defer pool.Close()

	for i := 0; i < 5; i++ {
		v, err := pool.Call(context.Background(), "graph.echo", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%d", i), v)
	}

	// Sequential calls reuse one session.
	assert.Equal(t, int32(1), opened.Load())
}

func TestClientPoolDestroysBrokenSessions(t *testing.T) {
	var attempts atomic.Int32

	pool, err := NewClientPool(func(_ context.Context) (Session, error) {
		attempts.Add(1)
		return SessionFunc(func(context.Context, map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("connection reset")
		}), nil
	}, WithPoolSize(1))
	require.NoError(t, err)

	defer pool.Close()

	_, err = pool.Call(context.Background(), "x")
	require.Error(t, err)

	_, err = pool.Call(context.Background(), "x")
	require.Error(t, err)

	// Each failed call destroyed its session, forcing a fresh one.
	assert.Equal(t, int32(2), attempts.Load())
}

func TestAsyncClient(t *testing.T) {
	c := newGraphClient(newGraphBridge())
	ac := NewAsyncClient(c)

	f1, err := ac.Send(context.Background(), "graph.echo", "one")
	require.NoError(t, err)

	f2, err := ac.Send(context.Background(), "graph.echo", "two")
	require.NoError(t, err)

	v2, err := f2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", v2)

	v1, err := f1.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", v1)
}
