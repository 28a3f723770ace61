package jsorb

import (
	"context"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// InvocationCallback observes every method invocation flowing through a
// bridge whose context matches the type it was registered for.
//
// PreInvoke runs after arguments are unmarshalled and before the method is
// invoked; returning an error aborts the call and becomes its failure.
// PostInvoke runs after the method returns, whether it succeeded or not;
// errors from PostInvoke are aggregated and fail the call.
type InvocationCallback interface {
	PreInvoke(ctx context.Context, contextArg, instance any, method string, args []any) error
	PostInvoke(ctx context.Context, contextArg, instance any, method string, result any, invErr error) error
}

// ErrorCallback observes calls that failed in unmarshalling, marshalling
// or in the invoked method itself. Errors raised by the callback are
// swallowed and logged; error observation must never change a call's
// outcome.
type ErrorCallback interface {
	InvocationError(ctx context.Context, contextArg, instance any, method string, err error)
}

// callbackData pairs a registered callback with the context type it
// matches.
type callbackData struct {
	callback    InvocationCallback
	errCallback ErrorCallback
	contextType reflect.Type
}

func (cd *callbackData) matches(contextArg any) bool {
	if contextArg == nil {
		return false
	}

	t := reflect.TypeOf(contextArg)

	if cd.contextType.Kind() == reflect.Interface {
		return t.Implements(cd.contextType)
	}

	return t.AssignableTo(cd.contextType)
}

// CallbackController holds the callback sets of one bridge and runs them
// at the pre-invoke, post-invoke and error points of the invocation
// pipeline.
type CallbackController struct {
	mu        sync.RWMutex
	callbacks []callbackData
	log       zerolog.Logger
}

// NewCallbackController returns an empty controller.
func NewCallbackController() *CallbackController {
	return &CallbackController{log: zerolog.Nop()}
}

// SetLogger installs the logger used for swallowed callback failures.
func (cc *CallbackController) SetLogger(log zerolog.Logger) {
	cc.log = log
}

// RegisterCallback adds an invocation callback matching context values of
// contextType (an interface or concrete type).
func (cc *CallbackController) RegisterCallback(cb InvocationCallback, contextType reflect.Type) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.callbacks = append(cc.callbacks, callbackData{callback: cb, contextType: contextType})
}

// RegisterErrorCallback adds an error callback matching context values of
// contextType.
func (cc *CallbackController) RegisterErrorCallback(cb ErrorCallback, contextType reflect.Type) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.callbacks = append(cc.callbacks, callbackData{errCallback: cb, contextType: contextType})
}

// UnregisterCallback removes a previously registered invocation callback.
func (cc *CallbackController) UnregisterCallback(cb InvocationCallback, contextType reflect.Type) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for i, cd := range cc.callbacks {
		if cd.callback == cb && cd.contextType == contextType {
			cc.callbacks = append(cc.callbacks[:i], cc.callbacks[i+1:]...)
			return
		}
	}
}

func (cc *CallbackController) snapshot() []callbackData {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	out := make([]callbackData, len(cc.callbacks))
	copy(out, cc.callbacks)

	return out
}

// runPreInvoke runs every matching callback; the first error aborts.
func (cc *CallbackController) runPreInvoke(ctx context.Context, contexts []any, instance any, method string, args []any) error {
	for _, cd := range cc.snapshot() {
		if cd.callback == nil {
			continue
		}

		for _, c := range contexts {
			if !cd.matches(c) {
				continue
			}

			if err := cd.callback.PreInvoke(ctx, c, instance, method, args); err != nil {
				return err
			}
		}
	}

	return nil
}

// runPostInvoke runs every matching callback even after a failed
// invocation; their errors are aggregated and re-raised.
func (cc *CallbackController) runPostInvoke(ctx context.Context, contexts []any, instance any, method string, result any, invErr error) error {
	var errs error

	for _, cd := range cc.snapshot() {
		if cd.callback == nil {
			continue
		}

		for _, c := range contexts {
			if !cd.matches(c) {
				continue
			}

			errs = multierr.Append(errs, cd.callback.PostInvoke(ctx, c, instance, method, result, invErr))
		}
	}

	return errs
}

// runErrorCallback notifies every matching error callback, swallowing
// anything they raise.
func (cc *CallbackController) runErrorCallback(ctx context.Context, contexts []any, instance any, method string, invErr error) {
	for _, cd := range cc.snapshot() {
		if cd.errCallback == nil {
			continue
		}

		for _, c := range contexts {
			if !cd.matches(c) {
				continue
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						cc.log.Error().Interface("panic", r).Str("method", method).Msg("panic in error callback")
					}
				}()

				cd.errCallback.InvocationError(ctx, c, instance, method, invErr)
			}()
		}
	}
}
