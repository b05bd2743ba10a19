package dispatcher

import (
	"fmt"

	"github.com/gorilla/rpc/v2/json2"
)

// Fault codes shared by every protocol handler.
const (
	CodeParseError     = int(json2.E_PARSE)
	CodeInvalidRequest = int(json2.E_INVALID_REQ)
	CodeMethodNotFound = int(json2.E_NO_METHOD)
	CodeInvalidParams  = int(json2.E_BAD_PARAMS)
	CodeInternalError  = int(json2.E_INTERNAL)
	CodeAccessDenied   = int(json2.E_SERVER)
)

// Fault is a caller-facing error. Procedures may return a *Fault to choose
// the code and message sent back on the wire.
type Fault struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%d: %s", f.Code, f.Message)
}

// NewFault creates a new Fault.
func NewFault(code int, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// InvalidParams builds an invalid params fault.
func InvalidParams(format string, args ...any) *Fault {
	return &Fault{Code: CodeInvalidParams, Message: "Invalid parameters: " + fmt.Sprintf(format, args...)}
}

// MethodNotFound builds a method not found fault.
func MethodNotFound(name string) *Fault {
	return &Fault{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", name)}
}

// AccessDenied builds the fault returned when authorization fails.
func AccessDenied(name string) *Fault {
	return &Fault{Code: CodeAccessDenied, Message: fmt.Sprintf("Authentication failed when calling %s", name)}
}

// ServerError builds the fault for an error raised inside a procedure.
func ServerError(msg string) *Fault {
	return &Fault{Code: CodeInternalError, Message: "Internal error: " + msg}
}
