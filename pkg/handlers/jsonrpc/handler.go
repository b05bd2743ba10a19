// Package jsonrpc decodes JSON-RPC 2.0 requests, runs them through the
// dispatcher and encodes the responses. It handles single calls, batches and
// notifications and is independent from the transport carrying the bytes.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "jsonrpc:handler"

// Version is the only protocol version accepted.
const Version = "2.0"

// ContentTypes lists the media types routed to this handler.
var ContentTypes = []string{"application/json", "application/json-rpc", "application/jsonrequest"}

// Accepts reports whether contentType (parameters ignored) is a JSON-RPC
// media type.
func Accepts(contentType string) bool {
	mt := strings.TrimSpace(strings.ToLower(strings.SplitN(contentType, ";", 2)[0]))
	for _, ct := range ContentTypes {
		if mt == ct {
			return true
		}
	}
	return false
}

// Handler serves JSON-RPC for one entry point.
type Handler struct {
	*dispatcher.Endpoint
}

// NewHandler binds a JSON-RPC handler to entryPoint.
func NewHandler(d *dispatcher.Dispatcher, entryPoint string) *Handler {
	return &Handler{Endpoint: d.Endpoint(entryPoint, registry.JSONRPC)}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type successResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result"`
	ID      any    `json:"id"`
}

type errorResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	Error   *dispatcher.Fault `json:"error"`
	ID      any               `json:"id"`
}

// Handle processes a request body and returns the response body. A nil
// response means every call was a notification and nothing must be sent.
func (h *Handler) Handle(ctx context.Context, body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return h.encode(errorOf(nil, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: empty body")))
	}

	if body[0] != '[' {
		resp, ok := h.handleOne(ctx, body)
		if !ok {
			return nil
		}
		return h.encode(resp)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return h.encode(errorOf(nil, dispatcher.NewFault(dispatcher.CodeParseError, "Parse error: "+err.Error())))
	}
	if len(batch) == 0 {
		return h.encode(errorOf(nil, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: empty batch")))
	}

	slog.Debug(fmt.Sprintf("%s - batch of %d calls on %s", logPrefix, len(batch), h.EntryPoint()))
	responses := make([]json.RawMessage, 0, len(batch))
	for _, raw := range batch {
		if resp, ok := h.handleOne(ctx, raw); ok {
			responses = append(responses, h.encode(resp))
		}
	}
	if len(responses) == 0 {
		return nil
	}
	out, err := json.Marshal(responses)
	if err != nil {
		// RawMessages were produced by json.Marshal and always re-encode.
		slog.Error(fmt.Sprintf("%s - failed to encode batch: %v", logPrefix, err))
		return nil
	}
	return out
}

// handleOne processes one call. ok is false for notifications.
func (h *Handler) handleOne(ctx context.Context, raw []byte) (resp any, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		if !json.Valid(raw) {
			return errorOf(nil, dispatcher.NewFault(dispatcher.CodeParseError, "Parse error")), true
		}
		return errorOf(nil, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: expected an object")), true
	}

	var req request
	if err := commsutil.DecodePayload(raw, &req); err != nil {
		if !json.Valid(raw) {
			return errorOf(nil, dispatcher.NewFault(dispatcher.CodeParseError, "Parse error: "+err.Error())), true
		}
		return errorOf(nil, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: "+err.Error())), true
	}

	id, err := decodeID(req.ID)
	if err != nil {
		return errorOf(nil, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: "+err.Error())), true
	}
	notification := req.ID == nil

	if req.JSONRPC != Version {
		return errorOf(id, dispatcher.NewFault(dispatcher.CodeInvalidRequest,
			fmt.Sprintf("Invalid request: jsonrpc must be %q", Version))), true
	}
	if req.Method == "" {
		return errorOf(id, dispatcher.NewFault(dispatcher.CodeInvalidRequest, "Invalid request: missing method")), true
	}

	params, err := decodeParams(req.Params)
	if err != nil {
		return errorOf(id, dispatcher.InvalidParams("%v", err)), !notification
	}
	call, err := dispatcher.NewRequest(req.Method, params)
	if err != nil {
		return errorOf(id, dispatcher.InvalidParams("params must be an array or an object")), !notification
	}
	call.ID = id

	result := h.ProcessRequest(ctx, call)
	if notification {
		slog.Debug(fmt.Sprintf("%s - notification %s done, error=%v", logPrefix, req.Method, result.IsError()))
		return nil, false
	}
	if result.IsError() {
		return errorOf(id, result.Fault()), true
	}
	return successResponse{JSONRPC: Version, Result: result.Data(), ID: id}, true
}

// encode marshals a response. A result that cannot be encoded turns into an
// internal error carrying the same id.
func (h *Handler) encode(resp any) []byte {
	out, err := commsutil.EncodePayload(resp)
	if err == nil {
		return out
	}
	slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
	var id any
	if s, ok := resp.(successResponse); ok {
		id = s.ID
	}
	out, _ = commsutil.EncodePayload(errorOf(id, dispatcher.ServerError("unable to encode result")))
	return out
}

func errorOf(id any, f *dispatcher.Fault) errorResponse {
	return errorResponse{JSONRPC: Version, Error: f, ID: id}
}

// decodeID accepts string, number and null ids.
func decodeID(raw json.RawMessage) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var id any
	if err := commsutil.DecodePayload(raw, &id); err != nil {
		return nil, err
	}
	switch id.(type) {
	case nil, string, json.Number:
		return id, nil
	}
	return nil, fmt.Errorf("id must be a string, a number or null")
}

func decodeParams(raw json.RawMessage) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var params any
	if err := commsutil.DecodePayload(raw, &params); err != nil {
		return nil, err
	}
	return normalizeNumbers(params), nil
}

// normalizeNumbers replaces json.Number with int64 when integral, float64
// otherwise, so procedures taking any see plain Go numbers.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	}
	return v
}
