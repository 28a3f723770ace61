package jsorb

// ExceptionTransformer shapes an error raised by an invoked method into
// the value carried in the error data member of a remote failure. The
// default transformer exposes only the error text: wrapped chains are
// flattened and no stack information leaks to the peer.
type ExceptionTransformer interface {
	Transform(err error) any
}

// ExceptionTransformerFunc adapts a function to [ExceptionTransformer].
type ExceptionTransformerFunc func(err error) any

// Transform implements [ExceptionTransformer].
func (f ExceptionTransformerFunc) Transform(err error) any {
	return f(err)
}

// defaultExceptionTransformer exposes err.Error() and nothing else.
var defaultExceptionTransformer ExceptionTransformer = ExceptionTransformerFunc(func(err error) any {
	if err == nil {
		return nil
	}

	return err.Error()
})
