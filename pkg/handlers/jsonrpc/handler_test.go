package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/rpc/v2/json2"

	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/registry"
	"github.com/morezero/rpc-dispatch/pkg/system"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	if err := system.Register(reg); err != nil {
		t.Fatalf("jsonrpc:handler_test - system.Register: %v", err)
	}
	reg.MustRegister(registry.Procedure(func(a, b int) int { return a + b },
		registry.WithName("add"), registry.WithArgs("a", "b")))
	reg.MustRegister(registry.Procedure(func(v any) any { return v }, registry.WithName("echo")))
	reg.MustRegister(registry.Procedure(func() (any, error) { return nil, errors.New("nope") }, registry.WithName("fail")))
	reg.MustRegister(registry.Procedure(func() any { return make(chan int) }, registry.WithName("unencodable")))
	reg.MustRegister(registry.Procedure(func() int { return 1 }, registry.WithName("xml_only"), registry.WithProtocol(registry.XMLRPC)))
	return NewHandler(dispatcher.NewDispatcher(reg), "api")
}

func roundTrip(t *testing.T, h *Handler, method string, params any, reply any) error {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		t.Fatalf("jsonrpc:handler_test - EncodeClientRequest: %v", err)
	}
	out := h.Handle(context.Background(), body)
	if out == nil {
		t.Fatal("jsonrpc:handler_test - expected a response")
	}
	return json2.DecodeClientResponse(bytes.NewReader(out), reply)
}

func TestHandle_Success(t *testing.T) {
	h := newTestHandler(t)

	var sum int
	if err := roundTrip(t, h, "add", []int{2, 3}, &sum); err != nil {
		t.Fatalf("jsonrpc:handler_test - unexpected error: %v", err)
	}
	if sum != 5 {
		t.Errorf("jsonrpc:handler_test - expected 5, got %d", sum)
	}

	if err := roundTrip(t, h, "add", map[string]int{"a": 10, "b": -4}, &sum); err != nil {
		t.Fatalf("jsonrpc:handler_test - unexpected error: %v", err)
	}
	if sum != 6 {
		t.Errorf("jsonrpc:handler_test - expected 6, got %d", sum)
	}

	var echoed map[string]any
	if err := roundTrip(t, h, "echo", []any{map[string]any{"big": int64(1) << 60, "pi": 3.5}}, &echoed); err != nil {
		t.Fatalf("jsonrpc:handler_test - unexpected error: %v", err)
	}
	if echoed["pi"] != 3.5 {
		t.Errorf("jsonrpc:handler_test - unexpected echo %v", echoed)
	}

	var methods []string
	if err := roundTrip(t, h, "system.listMethods", nil, &methods); err != nil {
		t.Fatalf("jsonrpc:handler_test - unexpected error: %v", err)
	}
	for _, m := range methods {
		if m == "system.multicall" || m == "xml_only" {
			t.Errorf("jsonrpc:handler_test - %s must not be listed for JSON-RPC", m)
		}
	}
}

func TestHandle_Faults(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		method string
		params any
		code   json2.ErrorCode
	}{
		{"missing", nil, json2.E_NO_METHOD},
		{"xml_only", nil, json2.E_NO_METHOD},
		{"add", []int{1}, json2.E_BAD_PARAMS},
		{"add", "not a container", json2.E_BAD_PARAMS},
		{"fail", nil, json2.E_INTERNAL},
		{"unencodable", nil, json2.E_INTERNAL},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			var reply any
			err := roundTrip(t, h, tt.method, tt.params, &reply)
			var rpcErr *json2.Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("jsonrpc:handler_test - expected *json2.Error, got %v", err)
			}
			if rpcErr.Code != tt.code {
				t.Errorf("jsonrpc:handler_test - expected code %d, got %d (%s)", tt.code, rpcErr.Code, rpcErr.Message)
			}
		})
	}
}

func decodeMap(t *testing.T, out []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("jsonrpc:handler_test - invalid response %s: %v", out, err)
	}
	return m
}

func errorCode(t *testing.T, m map[string]any) int {
	t.Helper()
	e, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatalf("jsonrpc:handler_test - expected error member in %v", m)
	}
	return int(e["code"].(float64))
}

func TestHandle_ProtocolErrors(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc": "2.0", "method"`, dispatcher.CodeParseError},
		{"empty body", ``, dispatcher.CodeInvalidRequest},
		{"wrong version", `{"jsonrpc": "1.0", "method": "add", "id": 1}`, dispatcher.CodeInvalidRequest},
		{"missing method", `{"jsonrpc": "2.0", "id": 1}`, dispatcher.CodeInvalidRequest},
		{"method not a string", `{"jsonrpc": "2.0", "method": 5, "id": 1}`, dispatcher.CodeInvalidRequest},
		{"object id", `{"jsonrpc": "2.0", "method": "add", "id": {}}`, dispatcher.CodeInvalidRequest},
		{"scalar request", `42`, dispatcher.CodeInvalidRequest},
		{"empty batch", `[]`, dispatcher.CodeInvalidRequest},
		{"broken batch", `[{"jsonrpc": "2.0"`, dispatcher.CodeParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := decodeMap(t, h.Handle(context.Background(), []byte(tt.body)))
			if got := errorCode(t, m); got != tt.code {
				t.Errorf("jsonrpc:handler_test - expected %d, got %d", tt.code, got)
			}
			if _, ok := m["result"]; ok {
				t.Error("jsonrpc:handler_test - error responses must not carry result")
			}
		})
	}
}

func TestHandle_IDs(t *testing.T) {
	h := newTestHandler(t)

	m := decodeMap(t, h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,1],"id":"abc"}`)))
	if m["id"] != "abc" || m["result"] != float64(2) {
		t.Errorf("jsonrpc:handler_test - unexpected response %v", m)
	}

	out := h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,1],"id":12345678901234567}`))
	if !bytes.Contains(out, []byte(`"id":12345678901234567`)) {
		t.Errorf("jsonrpc:handler_test - large numeric ids must be echoed unchanged, got %s", out)
	}

	m = decodeMap(t, h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,1],"id":null}`)))
	if v, ok := m["id"]; !ok || v != nil {
		t.Errorf("jsonrpc:handler_test - expected null id, got %v", m)
	}
}

func TestHandle_NullResult(t *testing.T) {
	h := newTestHandler(t)

	out := h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","params":[null],"id":1}`))
	m := decodeMap(t, out)
	if v, ok := m["result"]; !ok || v != nil {
		t.Errorf("jsonrpc:handler_test - success must always carry result, got %s", out)
	}
}

func TestHandle_Notifications(t *testing.T) {
	h := newTestHandler(t)

	if out := h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"add","params":[1,2]}`)); out != nil {
		t.Errorf("jsonrpc:handler_test - notifications must not be answered, got %s", out)
	}
	if out := h.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"missing"}`)); out != nil {
		t.Errorf("jsonrpc:handler_test - failed notifications must not be answered, got %s", out)
	}
	batch := `[{"jsonrpc":"2.0","method":"add","params":[1,2]},{"jsonrpc":"2.0","method":"echo","params":["x"]}]`
	if out := h.Handle(context.Background(), []byte(batch)); out != nil {
		t.Errorf("jsonrpc:handler_test - an all notification batch must not be answered, got %s", out)
	}
}

func TestHandle_Batch(t *testing.T) {
	h := newTestHandler(t)

	body := `[
		{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"add","params":[5,5]},
		{"jsonrpc":"2.0","method":"missing","id":2},
		1,
		{"jsonrpc":"2.0","method":"echo","params":{"arg0":"hi"},"id":3}
	]`
	var responses []map[string]any
	if err := json.Unmarshal(h.Handle(context.Background(), []byte(body)), &responses); err != nil {
		t.Fatalf("jsonrpc:handler_test - invalid batch response: %v", err)
	}
	if len(responses) != 4 {
		t.Fatalf("jsonrpc:handler_test - expected 4 responses, got %d: %v", len(responses), responses)
	}
	if responses[0]["id"] != float64(1) || responses[0]["result"] != float64(3) {
		t.Errorf("jsonrpc:handler_test - unexpected first response %v", responses[0])
	}
	if errorCode(t, responses[1]) != dispatcher.CodeMethodNotFound || responses[1]["id"] != float64(2) {
		t.Errorf("jsonrpc:handler_test - unexpected second response %v", responses[1])
	}
	if errorCode(t, responses[2]) != dispatcher.CodeInvalidRequest || responses[2]["id"] != nil {
		t.Errorf("jsonrpc:handler_test - unexpected third response %v", responses[2])
	}
	if responses[3]["result"] != "hi" {
		t.Errorf("jsonrpc:handler_test - unexpected fourth response %v", responses[3])
	}
}

func TestAccepts(t *testing.T) {
	tests := map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"Application/JSON-RPC":            true,
		"text/xml":                        false,
		"":                                false,
	}
	for ct, want := range tests {
		if got := Accepts(ct); got != want {
			t.Errorf("jsonrpc:handler_test - Accepts(%q) = %v, want %v", ct, got, want)
		}
	}
}
