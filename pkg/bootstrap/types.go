// Package bootstrap provides bootstrap configuration loading for entry points
// and the users allowed to call them.
package bootstrap

import (
	"fmt"
	"slices"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// Protocol names accepted in bootstrap files.
const (
	ProtocolJSONRPC = "jsonrpc"
	ProtocolXMLRPC  = "xmlrpc"
)

// BootstrapEntryPoint declares one named entry point and how it is reached.
type BootstrapEntryPoint struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	// Protocols lists "jsonrpc" and/or "xmlrpc". Empty means both.
	Protocols []string `json:"protocols,omitempty"`
}

// RegistryProtocols maps the declared protocol names to registry protocols.
func (ep BootstrapEntryPoint) RegistryProtocols() ([]registry.Protocol, error) {
	if len(ep.Protocols) == 0 {
		return []registry.Protocol{registry.JSONRPC, registry.XMLRPC}, nil
	}
	out := make([]registry.Protocol, 0, len(ep.Protocols))
	for _, p := range ep.Protocols {
		var proto registry.Protocol
		switch p {
		case ProtocolJSONRPC:
			proto = registry.JSONRPC
		case ProtocolXMLRPC:
			proto = registry.XMLRPC
		default:
			return nil, fmt.Errorf("%s - entry point %s: unknown protocol %q", logPrefix, ep.Name, p)
		}
		if !slices.Contains(out, proto) {
			out = append(out, proto)
		}
	}
	return out, nil
}

// BootstrapUser is a caller identity with a bcrypt password hash.
type BootstrapUser struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"passwordHash"`
	Superuser    bool     `json:"superuser,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	Groups       []string `json:"groups,omitempty"`
}

// BootstrapConfig is the root bootstrap configuration.
type BootstrapConfig struct {
	Name         string                `json:"name"`
	Version      string                `json:"version"`
	Description  string                `json:"description,omitempty"`
	EntryPoints  []BootstrapEntryPoint `json:"entryPoints"`
	Users        []BootstrapUser       `json:"users,omitempty"`
	Aliases      map[string]string     `json:"aliases,omitempty"`
	ChangeEvents ChangeEventSubjects   `json:"changeEventSubjects"`
}

// ChangeEventSubjects defines event subject patterns.
type ChangeEventSubjects struct {
	Global  string `json:"global"`
	Pattern string `json:"pattern"`
}

// ResolvedBootstrap provides fast lookup of entry points and users.
type ResolvedBootstrap struct {
	name         string
	version      string
	entryPoints  []*BootstrapEntryPoint
	byName       map[string]*BootstrapEntryPoint
	byPath       map[string]*BootstrapEntryPoint
	users        map[string]*BootstrapUser
	aliases      map[string]string
	changeEvents ChangeEventSubjects
}

// Get returns an entry point by name or alias.
func (rb *ResolvedBootstrap) Get(name string) *BootstrapEntryPoint {
	if ep, ok := rb.byName[name]; ok {
		return ep
	}
	if resolved, ok := rb.aliases[name]; ok {
		return rb.byName[resolved]
	}
	return nil
}

// ByPath returns the entry point served under an HTTP path.
func (rb *ResolvedBootstrap) ByPath(path string) *BootstrapEntryPoint {
	return rb.byPath[path]
}

// List returns the entry points in declaration order.
func (rb *ResolvedBootstrap) List() []*BootstrapEntryPoint {
	return rb.entryPoints
}

// User returns a bootstrap user by name.
func (rb *ResolvedBootstrap) User(username string) *BootstrapUser {
	return rb.users[username]
}

// ResolveAlias resolves an alias to the entry point name.
func (rb *ResolvedBootstrap) ResolveAlias(alias string) string {
	if resolved, ok := rb.aliases[alias]; ok {
		return resolved
	}
	return alias
}

// GlobalChangeSubject returns the global change event subject.
func (rb *ResolvedBootstrap) GlobalChangeSubject() string {
	return rb.changeEvents.Global
}

// Name returns the bootstrap config name.
func (rb *ResolvedBootstrap) Name() string {
	return rb.name
}

// Version returns the bootstrap config version.
func (rb *ResolvedBootstrap) Version() string {
	return rb.version
}
