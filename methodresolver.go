package jsorb

import (
	"context"
	"fmt"
	"reflect"
)

// primitiveRankings orders the scalar kinds by preference for overload tie
// breaking: with echo(int32) and echo(float64) both viable, echo(1) calls
// the int32 overload. Lower rank is more specific. The table is the
// authoritative tie breaker and is fixed.
var primitiveRankings = map[reflect.Kind]int{
	reflect.Int8:    0,
	reflect.Uint8:   1,
	reflect.Int16:   2,
	reflect.Uint16:  3,
	reflect.Int32:   4,
	reflect.Uint32:  5,
	reflect.Int:     6,
	reflect.Uint:    7,
	reflect.Int64:   8,
	reflect.Uint64:  9,
	reflect.Float32: 10,
	reflect.Float64: 11,
	reflect.Bool:    12,
}

// candidate is one overload that survived trial unmarshalling, together
// with its aggregate fit.
type candidate struct {
	callable *callable
	match    ObjectMatch
}

// methodResolver selects and invokes the best overload for a call. It is
// stateless; one value is shared by the whole bridge.
type methodResolver struct {
	bridge *Bridge
}

// resolveMethod picks the best candidate from the method map for the given
// name and wire arguments, or nil when nothing matches.
//
// A single candidate by (name, arity) wins outright. Multiple candidates
// are ranked by trial-unmarshalling every wire argument against every
// parameter position: the aggregate score of a candidate is its worst
// position, candidates whose arguments fail to unmarshal at all are
// rejected, and the lowest aggregate wins. Ties fall through to signature
// comparison.
func (mr *methodResolver) resolveMethod(methodMap map[methodKey][]*callable, name string, args []any) *callable {
	key := methodKey{name: name, arity: len(args)}

	candidates := methodMap[key]
	if len(candidates) == 0 {
		return nil
	}

	if len(candidates) == 1 {
		return candidates[0]
	}

	ser := mr.bridge.serializer
	viable := make([]candidate, 0, len(candidates))

	for _, c := range candidates {
		state := ser.NewState()
		match := MatchOkay
		rejected := false
		wireIdx := 0

		for _, p := range c.paramTypes {
			if mr.bridge.localArgs.IsLocalArg(p) {
				continue
			}

			m, err := ser.TryUnmarshalValue(state, p, args[wireIdx])
			wireIdx++

			if err != nil {
				rejected = true
				break
			}

			match = match.Max(m)
		}

		if rejected {
			continue
		}

		viable = append(viable, candidate{callable: c, match: match})
	}

	if len(viable) == 0 {
		return nil
	}

	best := viable[0]
	for _, c := range viable[1:] {
		if c.match.Mismatch() < best.match.Mismatch() {
			best = c
		} else if c.match.Mismatch() == best.match.Mismatch() {
			best = betterSignature(best, c)
		}
	}

	return best.callable
}

// betterSignature compares two equally scored candidates position by
// position: where the parameter types differ, the more specific side takes
// the point. Scalars compare through [primitiveRankings]; reference types
// through assignability (a type assignable to the other is the more
// specific one). The side with more points wins; a tie keeps the first
// candidate.
func betterSignature(a, b candidate) candidate {
	// Wire parameters align position by position; local arguments are
	// outside the comparison.
	pa, pb := a.callable.wireParams, b.callable.wireParams

	scoreA, scoreB := 0, 0

	for i := range pa {
		ta, tb := pa[i], pb[i]
		if ta == tb {
			continue
		}

		ra, aPrim := primitiveRankings[ta.Kind()]
		rb, bPrim := primitiveRankings[tb.Kind()]

		switch {
		case aPrim && bPrim:
			if ra < rb {
				scoreA++
			} else {
				scoreB++
			}
		case ta.AssignableTo(tb):
			scoreA++
		case tb.AssignableTo(ta):
			scoreB++
		default:
			scoreA++
		}
	}

	if scoreB > scoreA {
		return b
	}

	return a
}

// unmarshalArgs builds the real argument list for a call: local parameters
// resolve from context, everything else unmarshals from the wire.
func (mr *methodResolver) unmarshalArgs(ctx context.Context, contexts []any, c *callable, args []any, state *SerializerState) ([]reflect.Value, error) {
	out := make([]reflect.Value, len(c.paramTypes))
	wireIdx := 0

	for i, p := range c.paramTypes {
		if mr.bridge.localArgs.IsLocalArg(p) {
			v, err := mr.bridge.localArgs.Resolve(p, ctx, contexts)
			if err != nil {
				return nil, unmarshalErr("arg %d: %v", i+1, err)
			}

			out[i] = reflect.ValueOf(v)

			continue
		}

		v, err := mr.bridge.serializer.UnmarshalValue(state, p, args[wireIdx])
		wireIdx++

		if err != nil {
			return nil, unmarshalErr("arg %d could not unmarshal: %v", i+1, err)
		}

		if v == nil {
			out[i] = reflect.Zero(p)
		} else {
			out[i] = reflect.ValueOf(v)
		}
	}

	return out, nil
}

// invoke runs the full invocation pipeline for a resolved callable:
// argument unmarshalling, pre-invoke callbacks, the dynamic call,
// post-invoke callbacks, result marshalling and result shaping. All
// failure modes collapse into the fixed protocol codes.
func (mr *methodResolver) invoke(ctx context.Context, contexts []any, c *callable, instance any, requestID any, args []any) Result {
	b := mr.bridge

	b.log.Debug().Str("method", c.name).Int("args", len(args)).Interface("id", requestID).Msg("invoking")

	state := b.serializer.NewState()

	javaArgs, err := mr.unmarshalArgs(ctx, contexts, c, args, state)
	if err != nil {
		b.callbacks.runErrorCallback(ctx, contexts, instance, c.name, err)
		return NewFailedResult(CodeErrUnmarshal, requestID, err.Error())
	}

	plainArgs := make([]any, len(javaArgs))
	for i, a := range javaArgs {
		plainArgs[i] = a.Interface()
	}

	if err := b.callbacks.runPreInvoke(ctx, contexts, instance, c.name, plainArgs); err != nil {
		b.callbacks.runErrorCallback(ctx, contexts, instance, c.name, err)
		return NewRemoteFailedResult(requestID, b.exceptionTransformer.Transform(err))
	}

	result, invErr := mr.call(c, instance, javaArgs)

	if postErr := b.callbacks.runPostInvoke(ctx, contexts, instance, c.name, result, invErr); postErr != nil && invErr == nil {
		invErr = postErr
	}

	if invErr != nil {
		b.callbacks.runErrorCallback(ctx, contexts, instance, c.name, invErr)
		return NewRemoteFailedResult(requestID, b.exceptionTransformer.Transform(invErr))
	}

	marshalState := b.serializer.NewState()

	form, err := b.serializer.MarshalValue(marshalState, result, Field(resultField))
	if err != nil {
		b.callbacks.runErrorCallback(ctx, contexts, instance, c.name, err)
		return NewFailedResult(CodeErrMarshal, requestID, err.Error())
	}

	return marshalState.Result(requestID, form)
}

// call performs the dynamic invocation, converting a panic in the target
// into an ordinary invocation error.
func (mr *methodResolver) call(c *callable, instance any, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in %s: %v", c.name, r)
		}
	}()

	out := c.invoke(instance, args)

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errType {
			return nil, valueErr(out[0])
		}

		return out[0].Interface(), nil
	default:
		return out[0].Interface(), valueErr(out[1])
	}
}

func valueErr(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}

	return v.Interface().(error)
}
