package jsorb

import (
	"errors"
	"fmt"
)

// Failure codes carried in the error member of a response. The values are
// fixed protocol constants shared with the JavaScript client.
const (
	// CodeErrParse indicates the request could not be parsed as JSON.
	CodeErrParse int64 = 590
	// CodeErrNoMethod indicates no method matched the requested name and
	// argument count.
	CodeErrNoMethod int64 = 591
	// CodeErrUnmarshal indicates an argument could not be unmarshalled into
	// the selected method's parameter type.
	CodeErrUnmarshal int64 = 592
	// CodeErrMarshal indicates the return value could not be marshalled.
	CodeErrMarshal int64 = 593
	// CodeErrNoConstructor indicates no constructor matched, or a fixup
	// could not be applied.
	CodeErrNoConstructor int64 = 594
	// CodeRemoteException indicates the invoked method itself failed.
	CodeRemoteException int64 = 490
)

// Canonical failure messages.
const (
	msgErrParse         = "couldn't parse request"
	msgErrNoMethod      = "method not found (session may have timed out)"
	msgErrNoConstructor = "constructor not found"
	msgErrFixup         = "invalid or unexpected fixups"
)

// Sentinel errors for the marshalling layer. All unmarshal failures wrap
// [ErrUnmarshal] and all marshal failures wrap [ErrMarshal] so callers can
// classify without string matching.
var (
	ErrMarshal   = errors.New("marshal failed")
	ErrUnmarshal = errors.New("unmarshal failed")

	// ErrCircularReference is raised when a cycle is found and the active
	// fixup policy does not permit emitting fixups for it.
	ErrCircularReference = fmt.Errorf("%w (circular reference)", ErrMarshal)

	errTrailingData   = errors.New("trailing data after JSON value")
	errFixupMalformed = errors.New("malformed fixup")
	errNotANumber     = fmt.Errorf("%w (not a number)", ErrUnmarshal)
	errNumberTooLarge = fmt.Errorf("%w (number is too large)", ErrUnmarshal)
)

// Error is the wire form of a bridge failure: a numeric code, a human
// readable message and optional extra data. It implements the error
// interface and may be matched with [errors.Is] by code.
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int64  `json:"code"`
}

// NewError returns a new [*Error] with the given code and message.
func NewError(code int64, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WithData returns a copy of the error with its Data member set.
func (e *Error) WithData(data any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Data: data}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsorb error %d: %s", e.Code, e.Message)
}

// Is reports whether t is an [*Error] with the same code.
func (e *Error) Is(t error) bool {
	var te *Error
	if errors.As(t, &te) {
		return e.Code == te.Code
	}

	return false
}

// unmarshalErr builds an error wrapping [ErrUnmarshal].
func unmarshalErr(format string, args ...any) error {
	return fmt.Errorf("%w ("+format+")", append([]any{ErrUnmarshal}, args...)...)
}

// marshalErr builds an error wrapping [ErrMarshal].
func marshalErr(format string, args ...any) error {
	return fmt.Errorf("%w ("+format+")", append([]any{ErrMarshal}, args...)...)
}
