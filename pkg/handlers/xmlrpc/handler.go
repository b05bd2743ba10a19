// Package xmlrpc decodes XML-RPC methodCall documents, runs them through the
// dispatcher and encodes methodResponse documents.
package xmlrpc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const logPrefix = "xmlrpc:handler"

// ContentTypes lists the media types routed to this handler.
var ContentTypes = []string{"text/xml", "application/xml"}

// Accepts reports whether contentType (parameters ignored) is an XML-RPC
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

// Handler serves XML-RPC for one entry point.
type Handler struct {
	*dispatcher.Endpoint
}

// NewHandler binds an XML-RPC handler to entryPoint.
func NewHandler(d *dispatcher.Dispatcher, entryPoint string) *Handler {
	return &Handler{Endpoint: d.Endpoint(entryPoint, registry.XMLRPC)}
}

// Handle processes a methodCall document and returns the methodResponse.
// Every call is answered, faults included.
func (h *Handler) Handle(ctx context.Context, body []byte) []byte {
	method, params, err := DecodeCall(body)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - unable to parse call: %v", logPrefix, err))
		return EncodeFault(dispatcher.CodeParseError, "Parse error: "+err.Error())
	}
	if method == "" {
		return EncodeFault(dispatcher.CodeInvalidRequest, "Invalid request: missing methodName")
	}

	req, err := dispatcher.NewRequest(method, params)
	if err != nil {
		return EncodeFault(dispatcher.CodeInvalidParams, err.Error())
	}

	result := h.ProcessRequest(ctx, req)
	if result.IsError() {
		return EncodeFault(result.ErrorCode(), result.ErrorMessage())
	}

	out, err := EncodeResponse(result.Data())
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode result of %s: %v", logPrefix, method, err))
		return EncodeFault(dispatcher.CodeInternalError, "Internal error: unable to encode result: "+err.Error())
	}
	return out
}
