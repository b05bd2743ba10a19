package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// bindArgs builds the reflect arguments for method from req. Positional
// arguments bind in order; named arguments bind by name, unknown names going
// to the trailing Kwargs parameter when the procedure declares one.
func bindArgs(ctx context.Context, method *registry.Method, req *Request) ([]reflect.Value, *Fault) {
	sig := method.Signature()
	types := sig.ParamTypes()

	in := make([]reflect.Value, 0, len(types)+2)
	if sig.AcceptsContext {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}

	var extra registry.Kwargs
	switch {
	case req.Kwargs != nil:
		for i, name := range sig.Args {
			raw, ok := req.Kwargs[name]
			if !ok {
				return nil, InvalidParams("missing argument %q", name)
			}
			v, err := convertArg(raw, types[i])
			if err != nil {
				return nil, InvalidParams("argument %q: %v", name, err)
			}
			in = append(in, v)
		}
		unknown := unknownNames(req.Kwargs, sig.Args)
		if len(unknown) > 0 {
			if !sig.AcceptsKwargs {
				return nil, InvalidParams("unexpected argument %q", unknown[0])
			}
			extra = make(registry.Kwargs, len(unknown))
			for _, name := range unknown {
				extra[name] = req.Kwargs[name]
			}
		}
	default:
		if len(req.Args) != len(types) {
			return nil, InvalidParams("%s takes %d arguments, %d given", method.Name(), len(types), len(req.Args))
		}
		for i, raw := range req.Args {
			v, err := convertArg(raw, types[i])
			if err != nil {
				return nil, InvalidParams("argument %q: %v", sig.Args[i], err)
			}
			in = append(in, v)
		}
	}

	if sig.AcceptsKwargs {
		if extra == nil {
			extra = registry.Kwargs{}
		}
		in = append(in, reflect.ValueOf(extra))
	}
	return in, nil
}

func unknownNames(kwargs map[string]any, declared []string) []string {
	known := make(map[string]bool, len(declared))
	for _, n := range declared {
		known[n] = true
	}
	var out []string
	for name := range kwargs {
		if !known[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// convertArg converts a decoded wire value to the parameter type t.
func convertArg(raw any, t reflect.Type) (reflect.Value, error) {
	if raw == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("null is not a valid %s", t)
	}

	if n, ok := raw.(json.Number); ok {
		raw = numberValue(n)
	}

	v := reflect.ValueOf(raw)
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	}
	if isNumeric(v.Kind()) && isNumeric(t.Kind()) {
		return convertNumber(v, t)
	}

	// Structs, typed slices and maps go through a JSON round trip.
	b, err := json.Marshal(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.New(t)
	if err := json.Unmarshal(b, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s", raw, t)
	}
	return out.Elem(), nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	var f float64
	switch {
	case v.CanInt():
		f = float64(v.Int())
	case v.CanUint():
		f = float64(v.Uint())
	default:
		f = v.Float()
	}

	out := reflect.New(t).Elem()
	switch {
	case out.CanInt():
		if v.CanFloat() && f != math.Trunc(f) {
			return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
		}
		if v.CanFloat() && (f >= math.MaxInt64 || f < math.MinInt64) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
		}
		i := int64(f)
		if v.CanInt() {
			i = v.Int()
		}
		if v.CanUint() && v.Uint() > math.MaxInt64 || out.OverflowInt(i) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", v.Interface(), t)
		}
		out.SetInt(i)
	case out.CanUint():
		if f < 0 || (v.CanFloat() && (f != math.Trunc(f) || f >= math.MaxUint64)) {
			return reflect.Value{}, fmt.Errorf("%v is not a valid %s", v.Interface(), t)
		}
		u := uint64(f)
		if v.CanUint() {
			u = v.Uint()
		} else if v.CanInt() {
			u = uint64(v.Int())
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", v.Interface(), t)
		}
		out.SetUint(u)
	default:
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", v.Interface(), t)
		}
		out.SetFloat(f)
	}
	return out, nil
}

// invoke calls the procedure and turns its outcome into data or a Fault.
// Panics are contained.
func invoke(method *registry.Method, in []reflect.Value) (data any, fault *Fault) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s: %v", logPrefix, method.Name(), rv))
			data, fault = nil, ServerError(fmt.Sprint(rv))
		}
	}()

	sig := method.Signature()
	out := method.Func().Call(in)

	if sig.ReturnsError {
		if errV := out[len(out)-1]; !errV.IsNil() {
			err := errV.Interface().(error)
			var f *Fault
			if errors.As(err, &f) {
				return nil, f
			}
			slog.Warn(fmt.Sprintf("%s - %s failed: %v", logPrefix, method.Name(), err))
			return nil, ServerError(err.Error())
		}
	}
	if sig.ReturnsValue {
		return out[0].Interface(), nil
	}
	return nil, nil
}
