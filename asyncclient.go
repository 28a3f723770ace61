package jsorb

import (
	"context"
)

// AsyncResult carries the raw outcome of an asynchronous send. The
// response is not unmarshalled until a caller awaits it, so all
// unmarshalling stays on a caller goroutine rather than on any internal
// scheduler.
type AsyncResult struct {
	resp map[string]any
	err  error
}

// Future is the pending outcome of [AsyncClient.Send].
type Future struct {
	client *Client
	done   chan AsyncResult
}

// Await blocks until the response arrives (or ctx is done) and decodes it
// on the calling goroutine.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-f.done:
		if res.err != nil {
			return nil, res.err
		}

		result, err := f.client.processResponse(res.resp)
		if err != nil {
			return nil, err
		}

		state := f.client.serializer.NewState()

		return f.client.serializer.UnmarshalValue(state, nil, result)
	}
}

// AsyncClient issues calls whose responses are awaited later. Argument
// marshalling happens synchronously inside Send on the caller's
// goroutine; only the transport exchange runs in the background.
type AsyncClient struct {
	client *Client
}

// NewAsyncClient wraps an existing client.
func NewAsyncClient(client *Client) *AsyncClient {
	return &AsyncClient{client: client}
}

// Send marshals the arguments now and dispatches the request in the
// background, returning the [Future] holding its outcome. Marshalling
// failures surface immediately.
func (ac *AsyncClient) Send(ctx context.Context, method string, args ...any) (*Future, error) {
	req, err := ac.client.buildRequest(method, args)
	if err != nil {
		return nil, err
	}

	f := &Future{client: ac.client, done: make(chan AsyncResult, 1)}

	go func() {
		resp, sendErr := ac.client.session.Send(ctx, req)
		f.done <- AsyncResult{resp: resp, err: sendErr}
	}()

	return f, nil
}

// Close closes the wrapped client.
func (ac *AsyncClient) Close() error {
	return ac.client.Close()
}
