package jsorb

// Result is the outcome of one bridge call, ready to be encoded as a
// JSON-RPC response object. Every call produces exactly one Result; the
// bridge never lets an error escape [Bridge.Call].
type Result interface {
	// Output produces the response object. The id member is always
	// present; exactly one of result or error is.
	Output() (map[string]any, error)
}

// SuccessfulResult carries a marshalled return value.
type SuccessfulResult struct {
	id     any
	result any
}

// NewSuccessfulResult returns a plain success response for id.
func NewSuccessfulResult(id, result any) *SuccessfulResult {
	return &SuccessfulResult{id: id, result: result}
}

// Result returns the marshalled result payload.
func (r *SuccessfulResult) Result() any {
	return r.result
}

// Output implements [Result].
func (r *SuccessfulResult) Output() (map[string]any, error) {
	return map[string]any{idField: r.id, resultField: r.result}, nil
}

// MarshalJSON implements [json.Marshaler].
func (r *SuccessfulResult) MarshalJSON() ([]byte, error) {
	out, err := r.Output()
	if err != nil {
		return nil, err
	}

	return Marshal(out)
}

// fixupsResult is a success response carrying the fixup instructions
// needed to rebuild shared or cyclic subgraphs.
type fixupsResult struct {
	SuccessfulResult

	fixups []Fixup
}

func newFixupsResult(id, result any, fixups []Fixup) Result {
	return &fixupsResult{SuccessfulResult: SuccessfulResult{id: id, result: result}, fixups: fixups}
}

func (r *fixupsResult) Output() (map[string]any, error) {
	out, err := r.SuccessfulResult.Output()
	if err != nil {
		return nil, err
	}

	out[fixupsField] = r.fixups

	return out, nil
}

func (r *fixupsResult) MarshalJSON() ([]byte, error) {
	out, err := r.Output()
	if err != nil {
		return nil, err
	}

	return Marshal(out)
}

// flatResult is a success response in flat output mode: the result member
// holds the root's index token and every hoisted object sits under its own
// top-level "_n" key.
type flatResult struct {
	SuccessfulResult

	objects []*ProcessedObject
}

func newFlatResult(id, result any, objects []*ProcessedObject) Result {
	return &flatResult{SuccessfulResult: SuccessfulResult{id: id, result: result}, objects: objects}
}

func (r *flatResult) Output() (map[string]any, error) {
	out, err := r.SuccessfulResult.Output()
	if err != nil {
		return nil, err
	}

	for _, po := range r.objects {
		form, ok := po.Serialized()
		if !ok {
			return nil, marshalErr("flat object %s has no serialized form", po.flatIndex)
		}

		out[po.flatIndex] = form
	}

	return out, nil
}

func (r *flatResult) MarshalJSON() ([]byte, error) {
	out, err := r.Output()
	if err != nil {
		return nil, err
	}

	return Marshal(out)
}

// FailedResult is an error response produced by the bridge itself: parse,
// dispatch, marshalling or security failures.
type FailedResult struct {
	id  any
	err *Error
}

// NewFailedResult returns an error response with the given protocol code.
func NewFailedResult(code int64, id any, message string) *FailedResult {
	return &FailedResult{id: id, err: NewError(code, message)}
}

// Error returns the wire error of the failure.
func (r *FailedResult) Error() *Error {
	return r.err
}

// Output implements [Result].
func (r *FailedResult) Output() (map[string]any, error) {
	return map[string]any{idField: r.id, errorField: r.err}, nil
}

// MarshalJSON implements [json.Marshaler].
func (r *FailedResult) MarshalJSON() ([]byte, error) {
	out, err := r.Output()
	if err != nil {
		return nil, err
	}

	return Marshal(out)
}

// RemoteFailedResult is an error response caused by the invoked method
// itself failing. The shaped failure (after the bridge's
// [ExceptionTransformer]) travels in the error's data member.
type RemoteFailedResult struct {
	id   any
	data any
}

// NewRemoteFailedResult returns a remote failure response for id.
func NewRemoteFailedResult(id, data any) *RemoteFailedResult {
	return &RemoteFailedResult{id: id, data: data}
}

// Output implements [Result].
func (r *RemoteFailedResult) Output() (map[string]any, error) {
	msg := "remote exception"
	if s, ok := r.data.(string); ok {
		msg = s
	}

	return map[string]any{
		idField:    r.id,
		errorField: &Error{Code: CodeRemoteException, Message: msg, Data: r.data},
	}, nil
}

// MarshalJSON implements [json.Marshaler].
func (r *RemoteFailedResult) MarshalJSON() ([]byte, error) {
	out, err := r.Output()
	if err != nil {
		return nil, err
	}

	return Marshal(out)
}
