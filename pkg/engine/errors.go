package engine

import "fmt"

// Error codes in the pipeline taxonomy. VALIDATION_ERROR and CANCELLED
// abort the decision; the rest are recovered locally and surfaced
// through response metadata.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeModel      = "MODEL_ERROR"
	CodeLLM        = "LLM_ERROR"
	CodeSigning    = "SIGNING_ERROR"
	CodeEmission   = "EMISSION_ERROR"
	CodeSchema     = "SCHEMA_ERROR"
	CodeCancelled  = "CANCELLED"
)

// Error is the serialized pipeline error shape.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(field, format string, args ...any) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"field": field},
	}
}
