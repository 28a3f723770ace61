package jsorb

import (
	"context"
	"fmt"
)

// Session is one client transport: it carries a decoded request object to
// the peer and returns the decoded response object. Implementations own
// the framing (HTTP, stream, in process); the client owns everything else.
// The client does not serialize calls: concurrent [Client.Call]s and the
// pending sends of an [AsyncClient] all call Send on the same session.
// [ClientPool] gives each call a session of its own.
type Session interface {
	Send(ctx context.Context, req map[string]any) (map[string]any, error)
	Close() error
}

// SessionFunc adapts a function to a [Session] with a no-op Close. Useful
// for in-process loopback sessions:
//
//	session := jsorb.SessionFunc(func(ctx context.Context, req map[string]any) (map[string]any, error) {
//	    raw, _ := json.Marshal(req)
//	    out, _ := json.Marshal(bridge.Call(ctx, nil, raw))
//	    var resp map[string]any
//	    err := json.Unmarshal(out, &resp)
//	    return resp, err
//	})
type SessionFunc func(ctx context.Context, req map[string]any) (map[string]any, error)

// Send implements [Session].
func (f SessionFunc) Send(ctx context.Context, req map[string]any) (map[string]any, error) {
	return f(ctx, req)
}

// Close implements [Session].
func (f SessionFunc) Close() error {
	return nil
}

// ErrorResponse is the error a client call returns when the peer answered
// with an error member instead of a result.
type ErrorResponse struct {
	Data    any
	Message string
	Code    int64
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// errorResponseFrom extracts the error member of a decoded response, if
// present.
func errorResponseFrom(resp map[string]any) *ErrorResponse {
	raw, present := resp[errorField]
	if !present || raw == nil {
		return nil
	}

	er := &ErrorResponse{}

	obj, ok := raw.(map[string]any)
	if !ok {
		er.Message = fmt.Sprint(raw)
		return er
	}

	if code, err := toInt(obj["code"]); err == nil {
		er.Code = int64(code)
	}

	if msg, ok := obj["message"].(string); ok {
		er.Message = msg
	}

	er.Data = obj["data"]

	return er
}
