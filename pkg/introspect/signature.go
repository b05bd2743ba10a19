// Package introspect derives argument and return metadata for RPC procedures,
// from their Go signature and from their documentation text.
package introspect

import (
	"context"
	"fmt"
	"reflect"
)

const logPrefix = "introspect:signature"

// Kwargs collects named arguments a procedure did not declare.
type Kwargs map[string]any

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType  = reflect.TypeOf(Kwargs(nil))
)

// Signature is the structural description of a procedure.
type Signature struct {
	// Args holds argument names in declaration order.
	Args []string
	// ArgTypes maps each argument name to its type string ("" when unknown).
	ArgTypes map[string]string
	// ReturnType is the type string of the returned value ("" when unknown).
	ReturnType string
	// AcceptsKwargs is set when the last parameter is Kwargs.
	AcceptsKwargs bool
	// AcceptsContext is set when the first parameter is a context.Context.
	AcceptsContext bool
	// ReturnsError is set when the last result is an error.
	ReturnsError bool
	// ReturnsValue is set when the procedure returns a value besides the error.
	ReturnsValue bool

	params []reflect.Type
}

// ParamTypes returns the reflect types of the named arguments, in order.
func (s *Signature) ParamTypes() []reflect.Type {
	return s.params
}

// Inspect builds the Signature of fn. Accepted shapes are
// func([context.Context,] args... [, Kwargs]) ([R][, error]).
// Missing argument names are filled as arg0, arg1, ...
func Inspect(fn any, argNames []string) (*Signature, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%s - procedure must be a non-nil func, got %T", logPrefix, fn)
	}
	ft := v.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%s - variadic procedures are not supported", logPrefix)
	}

	sig := &Signature{ArgTypes: make(map[string]string)}

	first, last := 0, ft.NumIn()
	if last > 0 && ft.In(0) == contextType {
		sig.AcceptsContext = true
		first = 1
	}
	if last > first && ft.In(last-1) == kwargsType {
		sig.AcceptsKwargs = true
		last--
	}

	n := last - first
	if len(argNames) > n {
		return nil, fmt.Errorf("%s - %d argument names given for %d parameters", logPrefix, len(argNames), n)
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		t := ft.In(first + i)
		name := fmt.Sprintf("arg%d", i)
		if i < len(argNames) && argNames[i] != "" {
			name = argNames[i]
		}
		if seen[name] {
			return nil, fmt.Errorf("%s - duplicate argument name %q", logPrefix, name)
		}
		seen[name] = true
		sig.Args = append(sig.Args, name)
		sig.ArgTypes[name] = TypeString(t)
		sig.params = append(sig.params, t)
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			sig.ReturnsError = true
		} else {
			sig.ReturnsValue = true
			sig.ReturnType = TypeString(ft.Out(0))
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%s - second result must be error, got %s", logPrefix, ft.Out(1))
		}
		sig.ReturnsValue = true
		sig.ReturnsError = true
		sig.ReturnType = TypeString(ft.Out(0))
	default:
		return nil, fmt.Errorf("%s - procedures return at most a value and an error, got %d results", logPrefix, ft.NumOut())
	}

	return sig, nil
}

// TypeString renders a Go type for documentation. Empty interfaces carry no
// type information and render as "".
func TypeString(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return ""
	}
	return t.String()
}
