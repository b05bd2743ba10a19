package dispatcher

import (
	"errors"
	"testing"
)

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name      string
		params    any
		wantArgs  int
		wantNamed int
		nilArgs   bool
		nilNamed  bool
	}{
		{"nil params", nil, 0, 0, true, true},
		{"positional", []any{1, "two"}, 2, 0, false, true},
		{"typed slice", []int{1, 2, 3}, 3, 0, false, true},
		{"array", [2]string{"a", "b"}, 2, 0, false, true},
		{"named", map[string]any{"a": 1}, 0, 1, true, false},
		{"typed map", map[string]int{"a": 1, "b": 2}, 0, 2, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest("m", tt.params)
			if err != nil {
				t.Fatalf("dispatcher:envelope_test - unexpected error: %v", err)
			}
			if req.MethodName != "m" {
				t.Errorf("dispatcher:envelope_test - unexpected method %q", req.MethodName)
			}
			if len(req.Args) != tt.wantArgs || (req.Args == nil) != tt.nilArgs {
				t.Errorf("dispatcher:envelope_test - unexpected args %#v", req.Args)
			}
			if len(req.Kwargs) != tt.wantNamed || (req.Kwargs == nil) != tt.nilNamed {
				t.Errorf("dispatcher:envelope_test - unexpected kwargs %#v", req.Kwargs)
			}
		})
	}
}

func TestNewRequest_Unsupported(t *testing.T) {
	for _, params := range []any{42, "text", map[int]any{1: "a"}, struct{}{}} {
		if _, err := NewRequest("m", params); !errors.Is(err, ErrUnsupportedParams) {
			t.Errorf("dispatcher:envelope_test - %T: expected ErrUnsupportedParams, got %v", params, err)
		}
	}
}

func TestResult_Success(t *testing.T) {
	r := NewSuccess(7, []int{1})
	if r.IsError() || r.Fault() != nil {
		t.Fatal("dispatcher:envelope_test - success must not be an error")
	}
	if r.RequestID != 7 {
		t.Errorf("dispatcher:envelope_test - unexpected id %v", r.RequestID)
	}
	if got := r.Data().([]int); len(got) != 1 || got[0] != 1 {
		t.Errorf("dispatcher:envelope_test - unexpected data %v", got)
	}
	expectPanic(t, func() { r.ErrorCode() })
	expectPanic(t, func() { r.ErrorMessage() })
	expectPanic(t, func() { r.ErrorData() })
}

func TestResult_Error(t *testing.T) {
	r := NewError("id", CodeInvalidParams, "bad", map[string]any{"k": 1})
	if !r.IsError() {
		t.Fatal("dispatcher:envelope_test - expected error result")
	}
	if r.ErrorCode() != -32602 || r.ErrorMessage() != "bad" || r.ErrorData() == nil {
		t.Errorf("dispatcher:envelope_test - unexpected fault %+v", r.Fault())
	}
	f := r.Fault()
	f.Code = 1
	if r.ErrorCode() != CodeInvalidParams {
		t.Error("dispatcher:envelope_test - Fault must return a copy")
	}
	expectPanic(t, func() { r.Data() })
}

func TestFaultCodes(t *testing.T) {
	tests := []struct {
		fault *Fault
		code  int
		msg   string
	}{
		{MethodNotFound("nope"), -32601, "Method not found: nope"},
		{AccessDenied("secret"), -32000, "Authentication failed when calling secret"},
		{ServerError("boom"), -32603, "Internal error: boom"},
		{InvalidParams("x is %d", 3), -32602, "Invalid parameters: x is 3"},
	}
	for _, tt := range tests {
		if tt.fault.Code != tt.code || tt.fault.Message != tt.msg {
			t.Errorf("dispatcher:envelope_test - expected %d %q, got %d %q", tt.code, tt.msg, tt.fault.Code, tt.fault.Message)
		}
	}
	if CodeParseError != -32700 || CodeInvalidRequest != -32600 {
		t.Error("dispatcher:envelope_test - unexpected protocol error codes")
	}
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("dispatcher:envelope_test - expected panic")
		}
	}()
	fn()
}
