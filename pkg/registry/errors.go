package registry

// Configuration error codes.
const (
	CodeNotEnabled       = "NOT_ENABLED"
	CodeReservedName     = "RESERVED_NAME"
	CodeDuplicateName    = "DUPLICATE_NAME"
	CodeInvalidSignature = "INVALID_SIGNATURE"
)

// Sentinels for errors.Is. They match any *RegistryError with the same code.
var (
	ErrNotEnabled       = &RegistryError{Code: CodeNotEnabled}
	ErrReservedName     = &RegistryError{Code: CodeReservedName}
	ErrDuplicateName    = &RegistryError{Code: CodeDuplicateName}
	ErrInvalidSignature = &RegistryError{Code: CodeInvalidSignature}
)

// RegistryError is a configuration error raised while registering a procedure.
// It is fatal: the process should not finish starting up.
type RegistryError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *RegistryError) Error() string {
	return e.Code + ": " + e.Message
}

// Is reports whether target is a *RegistryError carrying the same code.
func (e *RegistryError) Is(target error) bool {
	t, ok := target.(*RegistryError)
	return ok && t.Code == e.Code
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(code, message string) *RegistryError {
	return &RegistryError{Code: code, Message: message}
}
