package jsorb

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// serverURLField is the optional response member instructing the client to
// switch endpoints.
const serverURLField = "serverURL"

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithClientLogger installs the client's structured logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithClientFixupPolicy selects how shared and cyclic argument graphs are
// encoded in outgoing requests.
func WithClientFixupPolicy(p FixupPolicy) ClientOption {
	return func(c *Client) { c.serializer.fixupPolicy = p }
}

// WithClientSerializer replaces the client's marshalling façade, for
// example to share a bridge's registered types and enums.
func WithClientSerializer(ser *ObjectSerializer) ClientOption {
	return func(c *Client) { c.serializer = ser }
}

// Client issues JSON-RPC calls over a [Session]. Marshalling of arguments
// and unmarshalling of results happen on the calling goroutine; the
// session only moves decoded messages.
type Client struct {
	session    Session
	serializer *ObjectSerializer
	parser     RequestParser
	nextID     atomic.Int64
	log        zerolog.Logger

	mu        sync.Mutex
	serverURL string
}

// NewClient returns a client speaking the default (fixup based) wire mode
// over session.
func NewClient(session Session, opts ...ClientOption) *Client {
	registry := NewTypeRegistry()

	c := &Client{
		session:    session,
		serializer: newObjectSerializer(registry, NewClassResolver(registry)),
		parser:     NewNestedRequestParser(),
		log:        zerolog.Nop(),
	}

	c.serializer.SetMarshalClassHints(true)

	for _, opt := range opts {
		opt(c)
	}

	c.serializer.log = c.log

	return c
}

// Serializer returns the client's marshalling façade, for registering
// types and enums the remote surface uses.
func (c *Client) Serializer() *ObjectSerializer {
	return c.serializer
}

// ServerURL returns the endpoint the peer last asked the client to switch
// to, if any.
func (c *Client) ServerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.serverURL
}

// Close closes the underlying session.
func (c *Client) Close() error {
	return c.session.Close()
}

// buildRequest marshals the arguments and assembles the request object,
// attaching fixups when the argument graph needed them.
func (c *Client) buildRequest(method string, args []any) (map[string]any, error) {
	state := c.serializer.NewState()

	// Fixup paths in requests are rooted at the params member.
	state.path = append(state.path, Field(paramField))

	params := make([]any, len(args))

	for i, a := range args {
		form, err := c.serializer.MarshalValue(state, a, Index(i))
		if err != nil {
			return nil, err
		}

		params[i] = form
	}

	req := map[string]any{
		methodField: method,
		idField:     c.nextID.Add(1),
		paramField:  params,
	}

	if fixups := state.Fixups(); len(fixups) > 0 {
		req[fixupsField] = fixups
	}

	return req, nil
}

// processResponse classifies a decoded response: remote errors surface as
// [*ErrorResponse], redirect hints are recorded, and the result member is
// returned with fixups applied.
func (c *Client) processResponse(resp map[string]any) (any, error) {
	if url, ok := resp[serverURLField].(string); ok {
		c.mu.Lock()
		c.serverURL = url
		c.mu.Unlock()
		c.log.Debug().Str("serverURL", url).Msg("peer requested endpoint switch")
	}

	if er := errorResponseFrom(resp); er != nil {
		return nil, er
	}

	return c.parser.ParseMember(resp, resultField)
}

// Call invokes method with the given arguments and returns the decoded
// result tree. A response error member is returned as [*ErrorResponse].
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	req, err := c.buildRequest(method, args)
	if err != nil {
		return nil, err
	}

	resp, err := c.session.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := c.processResponse(resp)
	if err != nil {
		return nil, err
	}

	state := c.serializer.NewState()

	return c.serializer.UnmarshalValue(state, nil, result)
}

// CallInto invokes method and unmarshals the result into out, which must
// be a non-nil pointer.
func (c *Client) CallInto(ctx context.Context, out any, method string, args ...any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return unmarshalErr("out must be a non-nil pointer, have %T", out)
	}

	req, err := c.buildRequest(method, args)
	if err != nil {
		return err
	}

	resp, err := c.session.Send(ctx, req)
	if err != nil {
		return err
	}

	result, err := c.processResponse(resp)
	if err != nil {
		return err
	}

	state := c.serializer.NewState()

	v, err := c.serializer.UnmarshalValue(state, rv.Type().Elem(), result)
	if err != nil {
		return err
	}

	if v == nil {
		rv.Elem().Set(reflect.Zero(rv.Type().Elem()))
		return nil
	}

	rv.Elem().Set(reflect.ValueOf(v))

	return nil
}
