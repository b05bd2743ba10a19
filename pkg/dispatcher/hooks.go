package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// DispatchHook provides observability callpoints around every dispatch.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, result *Result)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries call metadata passed to hooks.
type DispatchInfo struct {
	Method            string
	EntryPoint        string
	Protocol          registry.Protocol
	RequestID         string
	TransportMetadata map[string]string
}

func newDispatchInfo(ctx context.Context, req *Request, entryPoint string, protocol registry.Protocol) DispatchInfo {
	info := DispatchInfo{
		Method:            req.MethodName,
		EntryPoint:        entryPoint,
		Protocol:          protocol,
		TransportMetadata: TransportMetadataFrom(ctx),
	}
	if req.ID != nil {
		info.RequestID = fmt.Sprint(req.ID)
	}
	return info
}

// hookStart calls OnDispatchStart, swallowing panics. active is false when
// no hook is set or the hook panicked.
func (d *Dispatcher) hookStart(ctx context.Context, info DispatchInfo) (out context.Context, token HookToken, active bool) {
	out = ctx
	if d.hook == nil {
		return out, nil, false
	}
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error(fmt.Sprintf("%s - dispatch hook start panic: %v", logPrefix, rv))
			out, token, active = ctx, nil, false
		}
	}()
	var hookCtx context.Context
	hookCtx, token = d.hook.OnDispatchStart(ctx, info)
	if hookCtx != nil {
		out = hookCtx
	}
	return out, token, true
}

func (d *Dispatcher) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, result *Result) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error(fmt.Sprintf("%s - dispatch hook end panic: %v", logPrefix, rv))
		}
	}()
	d.hook.OnDispatchEnd(ctx, token, info, result)
}
