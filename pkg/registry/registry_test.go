package registry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/morezero/rpc-dispatch/pkg/events"
)

func add(a, b int) int { return a + b }

func subtract(a, b int) int { return a - b }

func echo(v any) any { return v }

var multiply = func(a, b int) int { return a * b }

func allow(ctx context.Context, params ...any) bool { return true }

func deny(ctx context.Context, params ...any) bool { return false }

func newTestRegistry(t *testing.T) (*Registry, *events.RecordingPublisher) {
	t.Helper()
	pub := &events.RecordingPublisher{}
	return NewRegistry(NewRegistryParams{Publisher: pub, Config: Config{Service: "test"}}), pub
}

func TestRegister_DefaultName(t *testing.T) {
	reg, _ := newTestRegistry(t)

	name, err := reg.Register(Procedure(add))
	if err != nil {
		t.Fatalf("registry:registry_test - unexpected error: %v", err)
	}
	if name != "add" {
		t.Errorf("registry:registry_test - expected name add, got %q", name)
	}
	if reg.Count() != 1 {
		t.Errorf("registry:registry_test - expected 1 method, got %d", reg.Count())
	}
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name string
		decl Declaration
		want error
	}{
		{"not enabled", Declaration{Func: add, Name: "add"}, ErrNotEnabled},
		{"reserved prefix", Procedure(add, WithName("rpc.add")), ErrReservedName},
		{"nil predicate", Procedure(add, WithAuth(nil)), ErrInvalidSignature},
		{"not a func", Procedure(42, WithName("answer")), ErrInvalidSignature},
		{"too many arg names", Procedure(add, WithArgs("a", "b", "c")), ErrInvalidSignature},
		{"bad results", Procedure(func() (int, int) { return 0, 0 }, WithName("pair")), ErrInvalidSignature},
		{"unnamed function literal", Procedure(func(a, b int) int { return a + b }), ErrInvalidSignature},
		{"unnamed package-level literal", Procedure(multiply), ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, pub := newTestRegistry(t)
			_, err := reg.Register(tt.decl)
			if !errors.Is(err, tt.want) {
				t.Fatalf("registry:registry_test - expected %v, got %v", tt.want, err)
			}
			var regErr *RegistryError
			if !errors.As(err, &regErr) || regErr.Message == "" {
				t.Errorf("registry:registry_test - expected *RegistryError with message, got %#v", err)
			}
			if reg.Count() != 0 || len(pub.Events()) != 0 {
				t.Errorf("registry:registry_test - failed registration must leave the registry untouched")
			}
		})
	}
}

func TestRegister_Idempotent(t *testing.T) {
	reg, pub := newTestRegistry(t)

	decl := Procedure(add, WithEntryPoint("api"), WithAuth(allow, "x"))
	if _, err := reg.Register(decl); err != nil {
		t.Fatalf("registry:registry_test - first register: %v", err)
	}
	// A declaration built separately but describing the same procedure.
	again := Procedure(add, WithEntryPoint("api"), WithAuth(allow, "x"))
	name, err := reg.Register(again)
	if err != nil {
		t.Fatalf("registry:registry_test - equal re-registration must succeed: %v", err)
	}
	if name != "add" || reg.Count() != 1 {
		t.Errorf("registry:registry_test - expected a single add, got %q count=%d", name, reg.Count())
	}
	if len(pub.Events()) != 1 {
		t.Errorf("registry:registry_test - expected 1 event, got %d", len(pub.Events()))
	}
}

func TestRegister_Duplicate(t *testing.T) {
	tests := []struct {
		name   string
		second Declaration
	}{
		{"different function", Procedure(subtract, WithName("add"), WithAuth(allow, "x"))},
		{"different entry point", Procedure(add, WithEntryPoint("other"), WithAuth(allow, "x"))},
		{"different protocol", Procedure(add, WithProtocol(XMLRPC), WithAuth(allow, "x"))},
		{"different predicate", Procedure(add, WithAuth(deny))},
		{"different predicate params", Procedure(add, WithAuth(allow, "y"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry(t)
			reg.MustRegister(Procedure(add, WithAuth(allow, "x")))

			_, err := reg.Register(tt.second)
			if !errors.Is(err, ErrDuplicateName) {
				t.Fatalf("registry:registry_test - expected duplicate error, got %v", err)
			}
			m := reg.Resolve("add", ALL, ProtocolAll)
			if m == nil || m.Func().Pointer() == 0 {
				t.Fatal("registry:registry_test - original method must stay registered")
			}
			if !m.IsValidFor(ALL, JSONRPC) {
				t.Error("registry:registry_test - original method must keep its exposure")
			}
		})
	}
}

func TestMustRegister_Panics(t *testing.T) {
	reg, _ := newTestRegistry(t)
	defer func() {
		if recover() == nil {
			t.Error("registry:registry_test - expected panic")
		}
	}()
	reg.MustRegister(Procedure(add, WithName("rpc.reserved")))
}

func TestResolve_Matrix(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.MustRegister(Procedure(add, WithName("everywhere")))
	reg.MustRegister(Procedure(add, WithName("api_only"), WithEntryPoint("api")))
	reg.MustRegister(Procedure(add, WithName("xml_only"), WithProtocol(XMLRPC)))
	reg.MustRegister(Procedure(add, WithName("api_json"), WithEntryPoint("api"), WithProtocol(JSONRPC)))

	tests := []struct {
		method     string
		entryPoint string
		protocol   Protocol
		found      bool
	}{
		{"everywhere", "api", JSONRPC, true},
		{"everywhere", "admin", XMLRPC, true},
		{"api_only", "api", XMLRPC, true},
		{"api_only", "admin", JSONRPC, false},
		{"api_only", ALL, JSONRPC, true},
		{"xml_only", "admin", XMLRPC, true},
		{"xml_only", "admin", JSONRPC, false},
		{"xml_only", "admin", ProtocolAll, true},
		{"api_json", "api", JSONRPC, true},
		{"api_json", "api", XMLRPC, false},
		{"api_json", "admin", JSONRPC, false},
		{"missing", ALL, ProtocolAll, false},
	}
	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.entryPoint+"/"+string(tt.protocol), func(t *testing.T) {
			m := reg.Resolve(tt.method, tt.entryPoint, tt.protocol)
			if (m != nil) != tt.found {
				t.Errorf("registry:registry_test - Resolve(%s, %s, %s) found=%v, want %v",
					tt.method, tt.entryPoint, tt.protocol, m != nil, tt.found)
			}
		})
	}
}

func TestListNames(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.MustRegister(Procedure(subtract))
	reg.MustRegister(Procedure(add))
	reg.MustRegister(Procedure(echo, WithEntryPoint("admin")))
	reg.MustRegister(Procedure(add, WithName("multi"), WithProtocol(XMLRPC)))

	tests := []struct {
		name       string
		entryPoint string
		protocol   Protocol
		sorted     bool
		want       []string
	}{
		{"sorted everything", ALL, ProtocolAll, true, []string{"add", "echo", "multi", "subtract"}},
		{"insertion order", ALL, ProtocolAll, false, []string{"subtract", "add", "echo", "multi"}},
		{"api json", "api", JSONRPC, true, []string{"add", "subtract"}},
		{"admin xml unsorted", "admin", XMLRPC, false, []string{"subtract", "add", "echo", "multi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.ListNames(tt.entryPoint, tt.protocol, tt.sorted)
			if !slices.Equal(got, tt.want) {
				t.Errorf("registry:registry_test - expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestReset(t *testing.T) {
	reg, pub := newTestRegistry(t)
	reg.MustRegister(Procedure(add))
	reg.Reset()

	if reg.Count() != 0 {
		t.Errorf("registry:registry_test - expected empty registry, got %d", reg.Count())
	}
	if reg.Resolve("add", ALL, ProtocolAll) != nil {
		t.Error("registry:registry_test - add must be gone after reset")
	}
	evs := pub.Events()
	if len(evs) != 2 || evs[1].Action != events.ActionReset {
		t.Fatalf("registry:registry_test - expected registered then reset events, got %+v", evs)
	}
	// The name is free again.
	if _, err := reg.Register(Procedure(subtract, WithName("add"))); err != nil {
		t.Errorf("registry:registry_test - register after reset: %v", err)
	}
}

func TestRegister_PublishesEvent(t *testing.T) {
	reg, pub := newTestRegistry(t)
	reg.MustRegister(Procedure(add, WithEntryPoint("api"), WithProtocol(JSONRPC)))

	evs := pub.Events()
	if len(evs) != 1 {
		t.Fatalf("registry:registry_test - expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.Action != events.ActionRegistered || ev.Method != "add" || ev.Service != "test" || ev.Count != 1 {
		t.Errorf("registry:registry_test - unexpected event %+v", ev)
	}
	if !slices.Equal(ev.EntryPoints, []string{"api"}) || !slices.Equal(ev.Protocols, []string{"__json_rpc"}) {
		t.Errorf("registry:registry_test - unexpected exposure in event %+v", ev)
	}
	if ev.Timestamp == "" {
		t.Error("registry:registry_test - expected timestamp")
	}
}

func TestRegister_PublishFailureIgnored(t *testing.T) {
	pub := events.NewCallbackPublisher(func(ctx context.Context, e *events.RegistryChangedEvent) error {
		return errors.New("broker down")
	})
	reg := NewRegistry(NewRegistryParams{Publisher: pub})
	if _, err := reg.Register(Procedure(add)); err != nil {
		t.Fatalf("registry:registry_test - publish failures must not fail registration: %v", err)
	}
}
