package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
	"golang.org/x/crypto/bcrypt"

	"github.com/morezero/rpc-dispatch/internal/config"
	"github.com/morezero/rpc-dispatch/internal/server"
	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/bootstrap"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const mainTestPrefix = "cmd/rpcserver:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "methods", "call", "hash", "COMMS_URL", "RPC_BOOTSTRAP_FILE"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    registry.Protocol
		wantErr bool
	}{
		{"", registry.ProtocolAll, false},
		{"all", registry.ProtocolAll, false},
		{"jsonrpc", registry.JSONRPC, false},
		{"xmlrpc", registry.XMLRPC, false},
		{"soap", "", true},
	}
	for _, tt := range tests {
		got, err := parseProtocol(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("%s - parseProtocol(%q) = %q, %v", mainTestPrefix, tt.in, got, err)
		}
	}
}

func TestRunMethods(t *testing.T) {
	var buf bytes.Buffer
	if err := runMethods(&buf, "api", "jsonrpc"); err != nil {
		t.Fatalf("%s - runMethods: %v", mainTestPrefix, err)
	}
	out := buf.String()
	for _, want := range []string{"add(a, b)", "divide(a, b)", "system.listMethods", "greet(name)"} {
		if !strings.Contains(out, want) {
			t.Errorf("%s - output missing %q:\n%s", mainTestPrefix, want, out)
		}
	}
	// admin only, and multicall is XML-RPC only
	for _, unwanted := range []string{"admin.stats", "system.multicall"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("%s - output should not contain %q:\n%s", mainTestPrefix, unwanted, out)
		}
	}

	if err := runMethods(&buf, "api", "soap"); err == nil {
		t.Errorf("%s - expected error for unknown protocol", mainTestPrefix)
	}
}

func TestRunHash(t *testing.T) {
	var buf bytes.Buffer
	if err := runHash(&buf, "s3cret", bcrypt.MinCost); err != nil {
		t.Fatalf("%s - runHash: %v", mainTestPrefix, err)
	}
	hash := strings.TrimSpace(buf.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("%s - hash does not match password: %v", mainTestPrefix, err)
	}
}

func newDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	reg, err := server.NewRegistry("test", &events.NoOpPublisher{}, registerProcedures)
	if err != nil {
		t.Fatalf("%s - NewRegistry: %v", mainTestPrefix, err)
	}
	return dispatcher.NewDispatcher(reg)
}

func TestProcedures(t *testing.T) {
	d := newDispatcher(t)
	superuser := auth.WithCaller(context.Background(), &auth.Caller{Username: "root", Superuser: true})

	tests := []struct {
		name       string
		ctx        context.Context
		entryPoint string
		req        *dispatcher.Request
		want       any
		wantCode   int
	}{
		{"add", context.Background(), "api", &dispatcher.Request{MethodName: "add", Args: []any{2, 3}}, 5, 0},
		{"subtract", context.Background(), "api", &dispatcher.Request{MethodName: "subtract", Args: []any{2, 3}}, -1, 0},
		{"divide", context.Background(), "api", &dispatcher.Request{MethodName: "divide", Args: []any{7, 2}}, 3.5, 0},
		{"divide by zero", context.Background(), "api", &dispatcher.Request{MethodName: "divide", Args: []any{1, 0}}, nil, dispatcher.CodeInvalidParams},
		{"echo", context.Background(), "api", &dispatcher.Request{MethodName: "echo", Args: []any{"hi"}}, "hi", 0},
		{"greet", context.Background(), "api", &dispatcher.Request{MethodName: "greet", Kwargs: map[string]any{"name": "Ada"}}, "Hello, Ada!", 0},
		{"greet kwargs", context.Background(), "api", &dispatcher.Request{MethodName: "greet", Kwargs: map[string]any{"name": "Ada", "greeting": "Hi"}}, "Hi, Ada!", 0},
		{"whoami anonymous", context.Background(), "api", &dispatcher.Request{MethodName: "whoami"}, nil, dispatcher.CodeAccessDenied},
		{"stats on api", superuser, "api", &dispatcher.Request{MethodName: "admin.stats"}, nil, dispatcher.CodeMethodNotFound},
		{"stats anonymous", context.Background(), "admin", &dispatcher.Request{MethodName: "admin.stats"}, nil, dispatcher.CodeAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(tt.ctx, tt.req, tt.entryPoint, registry.JSONRPC)
			if tt.wantCode != 0 {
				if !res.IsError() || res.ErrorCode() != tt.wantCode {
					t.Fatalf("%s - expected code %d, got %+v", mainTestPrefix, tt.wantCode, res)
				}
				return
			}
			if res.IsError() {
				t.Fatalf("%s - unexpected error %d %s", mainTestPrefix, res.ErrorCode(), res.ErrorMessage())
			}
			if res.Data() != tt.want {
				t.Errorf("%s - got %v, want %v", mainTestPrefix, res.Data(), tt.want)
			}
		})
	}

	res := d.Dispatch(superuser, &dispatcher.Request{MethodName: "admin.stats"}, "admin", registry.JSONRPC)
	if res.IsError() {
		t.Fatalf("%s - admin.stats: %s", mainTestPrefix, res.ErrorMessage())
	}
	stats, ok := res.Data().(map[string]any)
	if !ok || stats["methods"] != 12 {
		t.Errorf("%s - admin.stats = %v, want 12 methods", mainTestPrefix, res.Data())
	}
}

func TestCall_OverCOMMS(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create COMMS server: %v", mainTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - COMMS server failed to start", mainTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - connect: %v", mainTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	cfg := &config.Config{SubjectPrefix: "rpc", RequestTimeout: 5 * time.Second, HealthCheckTimeout: time.Second}
	rb := bootstrap.CreateResolvedBootstrap(bootstrap.GetDefaultBootstrapConfig())
	s, err := server.New(cfg, rb, newDispatcher(t), nc, nil)
	if err != nil {
		t.Fatalf("%s - server.New: %v", mainTestPrefix, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Subscribe(ctx); err != nil {
		t.Fatalf("%s - Subscribe: %v", mainTestPrefix, err)
	}

	got, err := callJSON(ctx, nc, "rpc.api.jsonrpc", "add", []any{20, 22}, nil)
	if err != nil {
		t.Fatalf("%s - callJSON: %v", mainTestPrefix, err)
	}
	if got != float64(42) {
		t.Errorf("%s - callJSON = %v, want 42", mainTestPrefix, got)
	}

	got, err = callJSON(ctx, nc, "rpc.api.jsonrpc", "greet", map[string]any{"name": "Bob"}, nil)
	if err != nil || got != "Hello, Bob!" {
		t.Errorf("%s - callJSON greet = %v, %v", mainTestPrefix, got, err)
	}

	if _, err := callJSON(ctx, nc, "rpc.api.jsonrpc", "nope", []any{}, nil); err == nil {
		t.Errorf("%s - expected error for unknown method", mainTestPrefix)
	}

	got, err = callXML(ctx, nc, "rpc.api.xmlrpc", "subtract", []any{10, 4}, nil)
	if err != nil {
		t.Fatalf("%s - callXML: %v", mainTestPrefix, err)
	}
	if got != 6 {
		t.Errorf("%s - callXML = %v, want 6", mainTestPrefix, got)
	}

	if _, err := callXML(ctx, nc, "rpc.api.xmlrpc", "subtract", map[string]any{"a": 1}, nil); err == nil {
		t.Errorf("%s - expected error for named XML-RPC params", mainTestPrefix)
	}

	got, err = callJSON(ctx, nc, "rpc.api.jsonrpc", "whoami", []any{}, (&auth.Caller{Username: "ada"}).Headers())
	if err != nil {
		t.Fatalf("%s - callJSON whoami: %v", mainTestPrefix, err)
	}
	if m, ok := got.(map[string]any); !ok || m["username"] != "ada" {
		t.Errorf("%s - whoami = %v", mainTestPrefix, got)
	}
}
