// Package registry holds the table of RPC procedures and resolves them by
// name, entry point and protocol.
package registry

import (
	"context"

	"github.com/morezero/rpc-dispatch/pkg/introspect"
)

// ALL is the wildcard accepted for both entry points and protocols.
const ALL = "__all__"

// Protocol identifies a wire encoding family.
type Protocol string

const (
	// ProtocolAll matches every protocol.
	ProtocolAll Protocol = ALL
	// JSONRPC is the JSON-RPC 2.0 protocol.
	JSONRPC Protocol = "__json_rpc"
	// XMLRPC is the XML-RPC protocol.
	XMLRPC Protocol = "__xml_rpc"
)

// String returns a human readable protocol name.
func (p Protocol) String() string {
	switch p {
	case JSONRPC:
		return "JSON-RPC"
	case XMLRPC:
		return "XML-RPC"
	case ProtocolAll:
		return "all"
	default:
		return string(p)
	}
}

// ReservedPrefix starts names kept for protocol extensions.
const ReservedPrefix = "rpc."

// Kwargs collects named arguments a procedure did not declare. A procedure
// whose last parameter has this type accepts arbitrary keyword arguments.
type Kwargs = introspect.Kwargs

// Predicate decides whether the caller carried by ctx may run a method.
// Params are the values bound at declaration time.
type Predicate func(ctx context.Context, params ...any) bool

// AuthRule pairs a predicate with its bound parameters.
type AuthRule struct {
	Predicate Predicate
	Params    []any
}

// ArgDoc describes one declared argument.
type ArgDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// ReturnDoc describes the value a procedure returns.
type ReturnDoc struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
