package registry

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/morezero/rpc-dispatch/pkg/introspect"
)

// Method is the registry's descriptor of one procedure. It is immutable once
// built; documentation metadata is computed on first use and cached.
type Method struct {
	name        string
	fn          reflect.Value
	entryPoints []string
	protocols   []Protocol
	auth        []AuthRule
	signature   *introspect.Signature
	docText     string

	docOnce   sync.Once
	doc       *introspect.Doc
	argsDoc   []ArgDoc
	returnDoc ReturnDoc
}

func newMethod(d Declaration) (*Method, error) {
	sig, err := introspect.Inspect(d.Func, d.ArgNames)
	if err != nil {
		return nil, err
	}
	return &Method{
		name:        d.methodName(),
		fn:          reflect.ValueOf(d.Func),
		entryPoints: normalizeEntryPoints(d.EntryPoints),
		protocols:   normalizeProtocols(d.Protocols),
		auth:        slices.Clone(d.Auth),
		signature:   sig,
		docText:     d.Doc,
	}, nil
}

func normalizeEntryPoints(eps []string) []string {
	if len(eps) == 0 || slices.Contains(eps, ALL) {
		return []string{ALL}
	}
	return slices.Clone(eps)
}

func normalizeProtocols(ps []Protocol) []Protocol {
	if len(ps) == 0 || slices.Contains(ps, ProtocolAll) {
		return []Protocol{ProtocolAll}
	}
	return slices.Clone(ps)
}

// Name returns the exposed method name.
func (m *Method) Name() string { return m.name }

// Func returns the underlying procedure.
func (m *Method) Func() reflect.Value { return m.fn }

// Signature returns the structural description computed at registration.
func (m *Method) Signature() *introspect.Signature { return m.signature }

// EntryPoints returns the entry points the method is exposed under.
func (m *Method) EntryPoints() []string { return slices.Clone(m.entryPoints) }

// Protocols returns the protocols the method runs under.
func (m *Method) Protocols() []Protocol { return slices.Clone(m.protocols) }

func (m *Method) String() string {
	return m.name + "(" + strings.Join(m.signature.Args, ", ") + ")"
}

// IsAvailableForEntryPoint reports whether the method is exposed under entryPoint.
func (m *Method) IsAvailableForEntryPoint(entryPoint string) bool {
	if entryPoint == ALL || m.entryPoints[0] == ALL {
		return true
	}
	return slices.Contains(m.entryPoints, entryPoint)
}

// IsAvailableForProtocol reports whether the method runs under protocol.
func (m *Method) IsAvailableForProtocol(protocol Protocol) bool {
	if protocol == ProtocolAll || m.protocols[0] == ProtocolAll {
		return true
	}
	return slices.Contains(m.protocols, protocol)
}

// IsValidFor reports whether the method may run for a request on entryPoint
// using protocol.
func (m *Method) IsValidFor(entryPoint string, protocol Protocol) bool {
	return m.IsAvailableForEntryPoint(entryPoint) && m.IsAvailableForProtocol(protocol)
}

// IsAvailableInJSONRPC is a shortcut used by documentation pages.
func (m *Method) IsAvailableInJSONRPC() bool { return m.IsAvailableForProtocol(JSONRPC) }

// IsAvailableInXMLRPC is a shortcut used by documentation pages.
func (m *Method) IsAvailableInXMLRPC() bool { return m.IsAvailableForProtocol(XMLRPC) }

// CheckAuthorization runs every predicate against the caller carried by ctx.
// A method without predicates is always authorized.
func (m *Method) CheckAuthorization(ctx context.Context) bool {
	for _, rule := range m.auth {
		if !rule.Predicate(ctx, rule.Params...) {
			return false
		}
	}
	return true
}

// Equal reports whether two descriptors wrap the same procedure with the same
// name, exposure and authorization rules.
func (m *Method) Equal(other *Method) bool {
	if m == other {
		return true
	}
	if other == nil {
		return false
	}
	if m.fn.Pointer() != other.fn.Pointer() || m.name != other.name {
		return false
	}
	if !slices.Equal(m.entryPoints, other.entryPoints) || !slices.Equal(m.protocols, other.protocols) {
		return false
	}
	if len(m.auth) != len(other.auth) {
		return false
	}
	for i := range m.auth {
		a, b := m.auth[i], other.auth[i]
		if reflect.ValueOf(a.Predicate).Pointer() != reflect.ValueOf(b.Predicate).Pointer() {
			return false
		}
		if !reflect.DeepEqual(a.Params, b.Params) {
			return false
		}
	}
	return true
}

// Args returns the argument names in declaration order.
func (m *Method) Args() []string { return slices.Clone(m.signature.Args) }

// AcceptsKwargs reports whether unknown named arguments are collected.
func (m *Method) AcceptsKwargs() bool { return m.signature.AcceptsKwargs }

// AcceptsContext reports whether the procedure receives the call context.
func (m *Method) AcceptsContext() bool { return m.signature.AcceptsContext }

// RawDoc returns the documentation text without field lists.
func (m *Method) RawDoc() string {
	m.loadDoc()
	return m.doc.Raw
}

// HTMLDoc returns the documentation rendered as HTML.
func (m *Method) HTMLDoc() string {
	m.loadDoc()
	return m.doc.HTML
}

// ArgsDoc returns per-argument documentation in declaration order. Types
// declared in the documentation win over Go types.
func (m *Method) ArgsDoc() []ArgDoc {
	m.loadDoc()
	return slices.Clone(m.argsDoc)
}

// ReturnDoc returns the documentation of the returned value.
func (m *Method) ReturnDoc() ReturnDoc {
	m.loadDoc()
	return m.returnDoc
}

func (m *Method) loadDoc() {
	m.docOnce.Do(func() {
		m.doc = introspect.ParseDoc(m.docText)
		m.argsDoc = make([]ArgDoc, 0, len(m.signature.Args))
		for _, arg := range m.signature.Args {
			m.argsDoc = append(m.argsDoc, ArgDoc{
				Name: arg,
				Type: orDefault(m.doc.ArgsTypes[arg], m.signature.ArgTypes[arg]),
				Text: m.doc.ArgsDoc[arg],
			})
		}
		m.returnDoc = ReturnDoc{
			Type: orDefault(m.doc.ReturnType, m.signature.ReturnType),
			Text: m.doc.ReturnDoc,
		}
	})
}

// orDefault returns s if non-empty, otherwise def.
func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
