package registry

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// Declaration is the immutable description of a procedure to register.
// Only declarations built by Procedure are marked enabled.
type Declaration struct {
	Enabled     bool
	Func        any
	Name        string
	EntryPoints []string
	Protocols   []Protocol
	Auth        []AuthRule
	ArgNames    []string
	Doc         string
}

// Option customizes a Declaration.
type Option func(*Declaration)

// Procedure marks fn as an RPC procedure. Without options it is exposed under
// its Go function name, on every entry point and every protocol. Function
// literals have no usable name and must be given one with WithName.
func Procedure(fn any, opts ...Option) Declaration {
	d := Declaration{
		Enabled:     true,
		Func:        fn,
		EntryPoints: []string{ALL},
		Protocols:   []Protocol{ProtocolAll},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithName overrides the exposed method name.
func WithName(name string) Option {
	return func(d *Declaration) { d.Name = name }
}

// WithEntryPoint limits the procedure to the given entry points.
func WithEntryPoint(entryPoints ...string) Option {
	return func(d *Declaration) {
		if len(entryPoints) == 0 {
			return
		}
		d.EntryPoints = append([]string(nil), entryPoints...)
	}
}

// WithProtocol limits the procedure to the given protocols.
func WithProtocol(protocols ...Protocol) Option {
	return func(d *Declaration) {
		if len(protocols) == 0 {
			return
		}
		d.Protocols = append([]Protocol(nil), protocols...)
	}
}

// WithAuth appends an authorization predicate bound to params. Every
// predicate must pass for a call to run.
func WithAuth(p Predicate, params ...any) Option {
	return func(d *Declaration) {
		d.Auth = append(d.Auth, AuthRule{Predicate: p, Params: params})
	}
}

// WithArgs names the procedure arguments, in declaration order. The leading
// context.Context and trailing Kwargs parameters are not named.
func WithArgs(names ...string) Option {
	return func(d *Declaration) { d.ArgNames = append([]string(nil), names...) }
}

// WithDoc attaches documentation text. Field lists such as ":param x:",
// ":type x:", ":return:" and ":rtype:" are understood.
func WithDoc(doc string) Option {
	return func(d *Declaration) { d.Doc = doc }
}

// methodName returns the exposed name: the explicit one, or the function's
// own name without its package path.
func (d Declaration) methodName() string {
	if d.Name != "" {
		return d.Name
	}
	return funcName(d.Func)
}

// anonymousName matches the names the runtime gives function literals, such
// as "func1", "TestX.func2" or "glob..func1.3".
var anonymousName = regexp.MustCompile(`(^|\.)func\d+(\.\d+)*$`)

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return ""
	}
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return ""
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// Method values carry a "-fm" suffix.
	return strings.TrimSuffix(name, "-fm")
}
