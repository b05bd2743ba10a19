package dispatcher

import (
	"context"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// Handler processes requests for one entry point and protocol. Procedures
// reach it through the CallContext to run nested calls (system.multicall).
type Handler interface {
	EntryPoint() string
	Protocol() registry.Protocol
	ProcessRequest(ctx context.Context, req *Request) *Result
}

// CallContext carries the values a procedure may need about its own call.
// Procedures whose first parameter is a context.Context read it with
// CallContextFrom.
type CallContext struct {
	Request           *Request
	EntryPoint        string
	Protocol          registry.Protocol
	Handler           Handler
	TransportMetadata map[string]string
}

type callContextKey struct{}

type transportMetadataKey struct{}

// WithCallContext returns a copy of ctx carrying cc.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the CallContext carried by ctx, or nil.
func CallContextFrom(ctx context.Context) *CallContext {
	cc, _ := ctx.Value(callContextKey{}).(*CallContext)
	return cc
}

// WithTransportMetadata attaches transport level metadata (HTTP or NATS
// headers) to ctx. Dispatch copies it into the CallContext and hook info.
func WithTransportMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, transportMetadataKey{}, md)
}

// TransportMetadataFrom returns the metadata attached by WithTransportMetadata.
func TransportMetadataFrom(ctx context.Context) map[string]string {
	md, _ := ctx.Value(transportMetadataKey{}).(map[string]string)
	return md
}
