// Package system provides the standard introspection procedures
// (system.listMethods, system.methodSignature, system.methodHelp) and the
// XML-RPC system.multicall batch operator.
package system

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "system:system"

// Method names.
const (
	ListMethods     = "system.listMethods"
	MethodSignature = "system.methodSignature"
	MethodHelp      = "system.methodHelp"
	Multicall       = "system.multicall"
)

// Procedures holds the system procedures bound to one registry.
type Procedures struct {
	registry *registry.Registry
}

// Register adds the system procedures to reg.
func Register(reg *registry.Registry) error {
	p := &Procedures{registry: reg}
	decls := []registry.Declaration{
		registry.Procedure(p.ListMethods,
			registry.WithName(ListMethods),
			registry.WithDoc(`Returns a list of all methods available in the current entry point

    :rtype: array`)),
		registry.Procedure(p.MethodSignature,
			registry.WithName(MethodSignature),
			registry.WithArgs("methodName"),
			registry.WithDoc(`Returns an array describing the signature of the given method name.

The result is an array with the return type as first element, then the
types of method arguments.

    :param str methodName: Name of a method available for current entry point (and protocol)
    :return: An array describing types of return values and method arguments
    :rtype: array`)),
		registry.Procedure(p.MethodHelp,
			registry.WithName(MethodHelp),
			registry.WithArgs("methodName"),
			registry.WithDoc(`Returns the documentation of the given method name.

    :param str methodName: Name of a method available for current entry point (and protocol)
    :return: Documentation text for the RPC method
    :rtype: str`)),
		registry.Procedure(p.Multicall,
			registry.WithName(Multicall),
			registry.WithProtocol(registry.XMLRPC),
			registry.WithArgs("calls"),
			registry.WithDoc(`Call multiple RPC methods at once.

    :param array calls: An array of struct like {"methodName": string, "params": array}
    :return: One entry per call: a one element array holding the result, or a fault struct
    :rtype: array`)),
	}
	for _, d := range decls {
		if _, err := reg.Register(d); err != nil {
			return fmt.Errorf("%s - register system procedures: %w", logPrefix, err)
		}
	}
	slog.Debug(fmt.Sprintf("%s - %d system procedures registered", logPrefix, len(decls)))
	return nil
}

// ListMethods returns the sorted names of the methods available to the
// caller's entry point and protocol.
func (p *Procedures) ListMethods(ctx context.Context) []string {
	ep, proto := scope(ctx)
	return p.registry.ListNames(ep, proto, true)
}

// MethodSignature returns the return type followed by the argument types of
// methodName. Unknown types are left out, so an untyped method yields [].
func (p *Procedures) MethodSignature(ctx context.Context, methodName string) ([]string, error) {
	m := p.resolve(ctx, methodName)
	if m == nil {
		return nil, dispatcher.InvalidParams("Unknown method %s. Unable to retrieve signature.", methodName)
	}
	sig := []string{}
	if t := m.ReturnDoc().Type; t != "" {
		sig = append(sig, t)
	}
	for _, arg := range m.ArgsDoc() {
		if arg.Type != "" {
			sig = append(sig, arg.Type)
		}
	}
	return sig, nil
}

// MethodHelp returns the HTML documentation of methodName.
func (p *Procedures) MethodHelp(ctx context.Context, methodName string) (string, error) {
	m := p.resolve(ctx, methodName)
	if m == nil {
		return "", dispatcher.InvalidParams("Unknown method %s. Unable to retrieve its documentation.", methodName)
	}
	return m.HTMLDoc(), nil
}

// Multicall runs every call through the current handler, in order. Each
// outcome is either a one element array holding the result or a struct with
// faultCode and faultString. A failing call never stops the batch.
func (p *Procedures) Multicall(ctx context.Context, calls any) ([]any, error) {
	list, ok := calls.([]any)
	if !ok {
		return nil, dispatcher.InvalidParams("system.multicall first argument should be a list, %T given.", calls)
	}
	cc := dispatcher.CallContextFrom(ctx)
	if cc == nil || cc.Handler == nil {
		return nil, fmt.Errorf("%s - system.multicall called outside of a dispatch", logPrefix)
	}

	results := make([]any, 0, len(list))
	for i, call := range list {
		req, fault := multicallRequest(call)
		if fault != nil {
			slog.Debug(fmt.Sprintf("%s - multicall entry %d rejected: %s", logPrefix, i, fault.Message))
			results = append(results, faultStruct(fault.Code, fault.Message))
			continue
		}
		res := cc.Handler.ProcessRequest(ctx, req)
		if res.IsError() {
			results = append(results, faultStruct(res.ErrorCode(), res.ErrorMessage()))
			continue
		}
		// Results are wrapped in a one element array so a struct result
		// cannot be mistaken for a fault.
		results = append(results, []any{res.Data()})
	}
	return results, nil
}

func multicallRequest(call any) (*dispatcher.Request, *dispatcher.Fault) {
	entry, ok := call.(map[string]any)
	if !ok {
		return nil, dispatcher.InvalidParams("system.multicall entries should be structs, %T given.", call)
	}
	name, ok := entry["methodName"].(string)
	if !ok {
		return nil, dispatcher.InvalidParams("system.multicall entry has no methodName string.")
	}
	req, err := dispatcher.NewRequest(name, entry["params"])
	if err != nil {
		return nil, dispatcher.InvalidParams("%v", err)
	}
	return req, nil
}

func faultStruct(code int, message string) map[string]any {
	return map[string]any{
		"faultCode":   code,
		"faultString": message,
	}
}

func (p *Procedures) resolve(ctx context.Context, methodName string) *registry.Method {
	ep, proto := scope(ctx)
	return p.registry.Resolve(methodName, ep, proto)
}

// scope returns the entry point and protocol of the current call, or the
// wildcards when called outside of a dispatch.
func scope(ctx context.Context) (string, registry.Protocol) {
	cc := dispatcher.CallContextFrom(ctx)
	if cc == nil {
		return registry.ALL, registry.ProtocolAll
	}
	return cc.EntryPoint, cc.Protocol
}
