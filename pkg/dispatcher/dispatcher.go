package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher routes requests to registry methods.
type Dispatcher struct {
	registry *registry.Registry
	hook     DispatchHook
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// SetDispatchHook registers a hook called around each dispatch. It must be
// set before the dispatcher serves requests.
func (d *Dispatcher) SetDispatchHook(hook DispatchHook) {
	d.hook = hook
}

// Registry returns the registry methods are resolved from.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch runs req on entryPoint using protocol. Failures never escape as
// panics or errors: they are reported in the returned Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, entryPoint string, protocol registry.Protocol) *Result {
	return d.Endpoint(entryPoint, protocol).ProcessRequest(ctx, req)
}

// Endpoint binds the dispatcher to one entry point and protocol.
func (d *Dispatcher) Endpoint(entryPoint string, protocol registry.Protocol) *Endpoint {
	return &Endpoint{dispatcher: d, entryPoint: entryPoint, protocol: protocol}
}

// Endpoint is a Handler serving one entry point with one protocol.
type Endpoint struct {
	dispatcher *Dispatcher
	entryPoint string
	protocol   registry.Protocol
}

// EntryPoint returns the entry point name.
func (e *Endpoint) EntryPoint() string { return e.entryPoint }

// Protocol returns the protocol requests are decoded with.
func (e *Endpoint) Protocol() registry.Protocol { return e.protocol }

// Dispatcher returns the underlying dispatcher.
func (e *Endpoint) Dispatcher() *Dispatcher { return e.dispatcher }

// ProcessRequest resolves, authorizes and invokes req.
func (e *Endpoint) ProcessRequest(ctx context.Context, req *Request) *Result {
	d := e.dispatcher
	info := newDispatchInfo(ctx, req, e.entryPoint, e.protocol)
	ctx, token, active := d.hookStart(ctx, info)
	result := d.process(ctx, req, e)
	if active {
		d.hookEnd(ctx, token, info, result)
	}
	return result
}

func (d *Dispatcher) process(ctx context.Context, req *Request, h Handler) (result *Result) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error(fmt.Sprintf("%s - panic while dispatching %s: %v", logPrefix, req.MethodName, rv))
			result = NewFaultResult(req.ID, ServerError(fmt.Sprint(rv)))
		}
	}()

	slog.Debug(fmt.Sprintf("%s - method=%s entryPoint=%s protocol=%s id=%v",
		logPrefix, req.MethodName, h.EntryPoint(), h.Protocol(), req.ID))

	if err := ctx.Err(); err != nil {
		return NewFaultResult(req.ID, ServerError(err.Error()))
	}

	method := d.registry.Resolve(req.MethodName, h.EntryPoint(), h.Protocol())
	if method == nil {
		slog.Debug(fmt.Sprintf("%s - method %q not found", logPrefix, req.MethodName))
		return NewFaultResult(req.ID, MethodNotFound(req.MethodName))
	}

	if !authorize(ctx, method) {
		slog.Info(fmt.Sprintf("%s - authorization denied for %s", logPrefix, method.Name()))
		return NewFaultResult(req.ID, AccessDenied(method.Name()))
	}

	cc := &CallContext{
		Request:           req,
		EntryPoint:        h.EntryPoint(),
		Protocol:          h.Protocol(),
		Handler:           h,
		TransportMetadata: TransportMetadataFrom(ctx),
	}
	ctx = WithCallContext(ctx, cc)

	args, fault := bindArgs(ctx, method, req)
	if fault != nil {
		slog.Debug(fmt.Sprintf("%s - invalid params for %s: %s", logPrefix, method.Name(), fault.Message))
		return NewFaultResult(req.ID, fault)
	}

	data, fault := invoke(method, args)
	if fault != nil {
		return NewFaultResult(req.ID, fault)
	}
	return NewSuccess(req.ID, data)
}

// authorize runs the method's predicates. A predicate that panics denies
// the call.
func authorize(ctx context.Context, method *registry.Method) (ok bool) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error(fmt.Sprintf("%s - authorization predicate for %s panicked: %v", logPrefix, method.Name(), rv))
			ok = false
		}
	}()
	return method.CheckAuthorization(ctx)
}
