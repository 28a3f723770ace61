package jsorb

import (
	"context"
	"errors"

	"github.com/jackc/puddle/v2"
)

// DefaultPoolSize is the maximum number of concurrently open sessions a
// [ClientPool] holds unless configured otherwise.
const DefaultPoolSize = 8

// SessionConstructor opens a new transport session on demand.
type SessionConstructor func(ctx context.Context) (Session, error)

// PoolOption configures a [ClientPool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	maxSize       int32
	clientOptions []ClientOption
}

// WithPoolSize bounds the number of concurrently open sessions.
func WithPoolSize(n int32) PoolOption {
	return func(pc *poolConfig) { pc.maxSize = n }
}

// WithPoolClientOptions applies client options to every pooled client.
func WithPoolClientOptions(opts ...ClientOption) PoolOption {
	return func(pc *poolConfig) { pc.clientOptions = append(pc.clientOptions, opts...) }
}

// ClientPool is a concurrency safe client backed by a pool of transport
// sessions. Each call acquires a session, runs a [Client] call over it on
// the calling goroutine and releases the session back to the pool. A call
// that fails at the transport level destroys its session so the pool
// reopens a fresh one later.
type ClientPool struct {
	pool          *puddle.Pool[*Client]
	clientOptions []ClientOption
}

// NewClientPool returns a pool creating sessions with the given
// constructor.
func NewClientPool(constructor SessionConstructor, opts ...PoolOption) (*ClientPool, error) {
	cfg := poolConfig{maxSize: DefaultPoolSize}

	for _, opt := range opts {
		opt(&cfg)
	}

	cp := &ClientPool{clientOptions: cfg.clientOptions}

	pool, err := puddle.NewPool(&puddle.Config[*Client]{
		Constructor: func(ctx context.Context) (*Client, error) {
			session, err := constructor(ctx)
			if err != nil {
				return nil, err
			}

			return NewClient(session, cp.clientOptions...), nil
		},
		Destructor: func(c *Client) {
			_ = c.Close()
		},
		MaxSize: cfg.maxSize,
	})
	if err != nil {
		return nil, err
	}

	cp.pool = pool

	return cp, nil
}

// Call invokes method over a pooled session and returns the decoded
// result tree.
func (cp *ClientPool) Call(ctx context.Context, method string, args ...any) (any, error) {
	res, err := cp.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	v, err := res.Value().Call(ctx, method, args...)

	cp.finish(res, err)

	return v, err
}

// CallInto invokes method over a pooled session and unmarshals the result
// into out.
func (cp *ClientPool) CallInto(ctx context.Context, out any, method string, args ...any) error {
	res, err := cp.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	err = res.Value().CallInto(ctx, out, method, args...)

	cp.finish(res, err)

	return err
}

// finish returns the session to the pool, destroying it after transport
// failures. Remote errors and marshalling errors keep the session alive;
// the transport itself worked.
func (cp *ClientPool) finish(res *puddle.Resource[*Client], err error) {
	if err == nil {
		res.Release()
		return
	}

	var er *ErrorResponse
	if errors.As(err, &er) || errors.Is(err, ErrMarshal) || errors.Is(err, ErrUnmarshal) {
		res.Release()
		return
	}

	res.Destroy()
}

// Close destroys all pooled sessions and releases the pool.
func (cp *ClientPool) Close() {
	cp.pool.Close()
}
