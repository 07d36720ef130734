package rpc

import (
	"errors"
	"fmt"
)

// Error codes returned for router-level failures.
const (
	CodeUnknownMethod    = "unknown_method"
	CodeInvalidParams    = "invalid_params"
	CodeValidationFailed = "validation_failed"
)

// UserError is a failure the caller can fix: bad method name, malformed
// params, a missing record. Anything else is an internal error.
type UserError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserErrorf builds a UserError with a formatted message.
func UserErrorf(code, format string, args ...interface{}) *UserError {
	return &UserError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsUserError unwraps err into a *UserError if it is one.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
