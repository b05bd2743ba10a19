package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/events"
)

const logPrefix = "registry:registry"

// Config holds registry configuration.
type Config struct {
	// Service names the process in published change events.
	Service string
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Publisher events.EventPublisher
	Config    Config
}

// Registry maps method names to their descriptors. Lookups may run
// concurrently; Register and Reset take an exclusive lock.
type Registry struct {
	mu        sync.RWMutex
	methods   map[string]*Method
	order     []string
	publisher events.EventPublisher
	config    Config
}

// NewRegistry creates an empty Registry.
func NewRegistry(params NewRegistryParams) *Registry {
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Registry{
		methods:   make(map[string]*Method),
		publisher: pub,
		config:    params.Config,
	}
}

// Register adds the procedure described by d and returns its exposed name.
// Registering an equal declaration twice is a no-op. Every failure is a
// *RegistryError and should abort startup.
func (r *Registry) Register(d Declaration) (string, error) {
	if !d.Enabled {
		return "", &RegistryError{
			Code:    CodeNotEnabled,
			Message: fmt.Sprintf("trying to register %s as RPC method, but it was not declared with registry.Procedure", funcName(d.Func)),
		}
	}

	name := d.methodName()
	slog.Debug(fmt.Sprintf("%s - Register RPC method %q", logPrefix, name))

	if name == "" {
		return "", &RegistryError{Code: CodeInvalidSignature, Message: "method name is empty"}
	}
	if d.Name == "" && anonymousName.MatchString(name) {
		return "", &RegistryError{
			Code:    CodeInvalidSignature,
			Message: fmt.Sprintf("%s is an anonymous function, give it a name with registry.WithName", name),
		}
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return "", &RegistryError{
			Code:    CodeReservedName,
			Message: fmt.Sprintf("method names starting with %q are reserved for system extensions: %s", ReservedPrefix, name),
		}
	}
	for i, rule := range d.Auth {
		if rule.Predicate == nil {
			return "", &RegistryError{
				Code:    CodeInvalidSignature,
				Message: fmt.Sprintf("%s: authorization predicate %d is nil", name, i),
			}
		}
	}

	m, err := newMethod(d)
	if err != nil {
		return "", &RegistryError{Code: CodeInvalidSignature, Message: fmt.Sprintf("%s: %v", name, err)}
	}

	r.mu.Lock()
	if existing, ok := r.methods[name]; ok {
		r.mu.Unlock()
		// The same procedure may be declared from several places.
		if m.Equal(existing) {
			return name, nil
		}
		return "", &RegistryError{
			Code:    CodeDuplicateName,
			Message: fmt.Sprintf("a RPC method with name %s has already been registered", name),
		}
	}
	r.methods[name] = m
	r.order = append(r.order, name)
	count := len(r.methods)
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Method registered. len(registry): %d", logPrefix, count))
	r.publish(&events.RegistryChangedEvent{
		Action:      events.ActionRegistered,
		Method:      name,
		EntryPoints: m.entryPoints,
		Protocols:   protocolStrings(m.protocols),
		Count:       count,
	})
	return name, nil
}

// MustRegister is like Register but panics on configuration errors.
func (r *Registry) MustRegister(d Declaration) string {
	name, err := r.Register(d)
	if err != nil {
		panic(fmt.Sprintf("%s - %v", logPrefix, err))
	}
	return name
}

// Resolve returns the method registered under name if it may run on
// entryPoint with protocol, or nil.
func (r *Registry) Resolve(name, entryPoint string, protocol Protocol) *Method {
	r.mu.RLock()
	m, ok := r.methods[name]
	r.mu.RUnlock()
	if !ok || !m.IsValidFor(entryPoint, protocol) {
		return nil
	}
	return m
}

// ListNames returns the names of methods valid for entryPoint and protocol,
// sorted when requested, in registration order otherwise.
func (r *Registry) ListNames(entryPoint string, protocol Protocol, sorted bool) []string {
	methods := r.ListMethods(entryPoint, protocol, sorted)
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, m.name)
	}
	return names
}

// ListMethods returns the methods valid for entryPoint and protocol, sorted
// by name when requested, in registration order otherwise.
func (r *Registry) ListMethods(entryPoint string, protocol Protocol, sorted bool) []*Method {
	r.mu.RLock()
	order := slices.Clone(r.order)
	methods := make([]*Method, 0, len(order))
	if sorted {
		sort.Strings(order)
	}
	for _, name := range order {
		if m := r.methods[name]; m.IsValidFor(entryPoint, protocol) {
			methods = append(methods, m)
		}
	}
	r.mu.RUnlock()
	return methods
}

// Count returns the number of registered methods.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.methods)
}

// Reset removes every method. It must not run concurrently with dispatch.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.methods = make(map[string]*Method)
	r.order = nil
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Registry reset", logPrefix))
	r.publish(&events.RegistryChangedEvent{Action: events.ActionReset})
}

func (r *Registry) publish(event *events.RegistryChangedEvent) {
	event.Service = r.config.Service
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err := r.publisher.PublishChanged(context.Background(), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event: %v", logPrefix, event.Action, err))
	}
}

func protocolStrings(ps []Protocol) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
