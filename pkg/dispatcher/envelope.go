// Package dispatcher resolves RPC requests against the registry, checks
// authorization, invokes procedures and packages their outcome.
package dispatcher

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnsupportedParams is returned by NewRequest for params that are neither
// a mapping nor a sequence.
var ErrUnsupportedParams = errors.New("dispatcher:envelope - unsupported params type")

// Request is a normalized incoming call. At most one of Args and Kwargs is
// populated.
type Request struct {
	MethodName string
	Args       []any
	Kwargs     map[string]any
	// ID correlates the response; it is protocol specific and may be nil.
	ID any
}

// NewRequest builds a Request from wire params: a map with string keys
// becomes Kwargs, a slice or array becomes Args, nil leaves both empty.
func NewRequest(methodName string, params any) (*Request, error) {
	req := &Request{MethodName: methodName}
	if params == nil {
		return req, nil
	}

	switch p := params.(type) {
	case []any:
		req.Args = p
		return req, nil
	case map[string]any:
		req.Kwargs = p
		return req, nil
	}

	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return req, nil
		}
		req.Args = make([]any, v.Len())
		for i := range req.Args {
			req.Args[i] = v.Index(i).Interface()
		}
		return req, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			break
		}
		req.Kwargs = make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			req.Kwargs[iter.Key().String()] = iter.Value().Interface()
		}
		return req, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedParams, params)
}

// Result is the immutable outcome of one call: a success payload or a fault.
type Result struct {
	RequestID any
	data      any
	fault     *Fault
}

// NewSuccess builds a successful Result.
func NewSuccess(requestID, data any) *Result {
	return &Result{RequestID: requestID, data: data}
}

// NewError builds a failed Result.
func NewError(requestID any, code int, message string, data any) *Result {
	return &Result{RequestID: requestID, fault: &Fault{Code: code, Message: message, Data: data}}
}

// NewFaultResult builds a failed Result from a Fault.
func NewFaultResult(requestID any, f *Fault) *Result {
	return NewError(requestID, f.Code, f.Message, f.Data)
}

// IsError reports whether the call failed.
func (r *Result) IsError() bool {
	return r.fault != nil
}

// Data returns the success payload. It panics on a failed Result.
func (r *Result) Data() any {
	if r.fault != nil {
		panic("dispatcher:envelope - Data called on an error result")
	}
	return r.data
}

// Fault returns the fault of a failed Result, or nil.
func (r *Result) Fault() *Fault {
	if r.fault == nil {
		return nil
	}
	f := *r.fault
	return &f
}

// ErrorCode returns the fault code. It panics on a successful Result.
func (r *Result) ErrorCode() int {
	return r.mustFault().Code
}

// ErrorMessage returns the fault message. It panics on a successful Result.
func (r *Result) ErrorMessage() string {
	return r.mustFault().Message
}

// ErrorData returns the fault data. It panics on a successful Result.
func (r *Result) ErrorData() any {
	return r.mustFault().Data
}

func (r *Result) mustFault() *Fault {
	if r.fault == nil {
		panic("dispatcher:envelope - error accessor called on a success result")
	}
	return r.fault
}
