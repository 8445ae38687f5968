package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Lichen error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"   // 400
	ErrSpec           ErrorCode = "SPEC_ERROR"        // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"         // 404
	ErrFileNotFound   ErrorCode = "FILE_NOT_FOUND"    // 404
	ErrLookup         ErrorCode = "LOOKUP_ERROR"      // 404
	ErrValidation     ErrorCode = "VALIDATION_ERROR"  // 422
	ErrExecution      ErrorCode = "EXECUTION_ERROR"   // 422
	ErrPersistence    ErrorCode = "PERSISTENCE_ERROR" // 500
	ErrReload         ErrorCode = "RELOAD_ERROR"      // 500
	ErrInternal       ErrorCode = "INTERNAL"          // 500
)

// LichenError represents a structured error with code, status, and details.
type LichenError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *LichenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *LichenError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LichenError {
	return &LichenError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewSpecError creates a 400 error for a malformed or empty capability spec.
// The message is user-facing and is returned verbatim as an extension result.
func NewSpecError(msg string) *LichenError {
	return &LichenError{
		Code:    ErrSpec,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a tool cannot be found.
func NewNotFound(identifier string) *LichenError {
	return &LichenError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("tool not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRecordNotFound creates a 404 error for a missing extension ledger record.
func NewRecordNotFound(id string) *LichenError {
	return &LichenError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("extension record not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *LichenError {
	return &LichenError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewLookup creates a 404 error for a capability missing from the reloaded module.
func NewLookup(name string) *LichenError {
	return &LichenError{
		Code:    ErrLookup,
		Status:  404,
		Message: fmt.Sprintf("capability %q not found after reload", name),
		Details: map[string]any{"name": name},
	}
}

// NewUndefined creates a 422 error for a unit whose name does not end up as a
// global function once the artifact is executed.
func NewUndefined(name string) *LichenError {
	return &LichenError{
		Code:    ErrLookup,
		Status:  422,
		Message: fmt.Sprintf("capability %q would not be defined as a global function", name),
		Details: map[string]any{"name": name},
	}
}

// NewValidation creates a 422 error for a denylisted token in a capability body.
func NewValidation(token string) *LichenError {
	return &LichenError{
		Code:    ErrValidation,
		Status:  422,
		Message: fmt.Sprintf("body contains forbidden token: %q", token),
		Details: map[string]any{"token": token},
	}
}

// NewExecution creates a 422 error for a runtime failure inside a capability.
func NewExecution(name string, err error) *LichenError {
	msg := fmt.Sprintf("executing capability %q failed", name)
	if err != nil {
		msg = fmt.Sprintf("executing capability %q: %v", name, err)
	}
	return &LichenError{
		Code:    ErrExecution,
		Status:  422,
		Message: msg,
		Details: map[string]any{"name": name},
		cause:   err,
	}
}

// NewPersistence creates a 500 error for artifact read/write failures.
func NewPersistence(op string, err error) *LichenError {
	return &LichenError{
		Code:    ErrPersistence,
		Status:  500,
		Message: fmt.Sprintf("%s: %v", op, err),
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewReload creates a 500 error for a capability module that fails to load.
func NewReload(module string, err error) *LichenError {
	return &LichenError{
		Code:    ErrReload,
		Status:  500,
		Message: fmt.Sprintf("loading module %q: %v", module, err),
		Details: map[string]any{"module": module},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LichenError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LichenError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a LichenError with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LichenError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrInternal if err is not a LichenError.
func CodeOf(err error) ErrorCode {
	var lErr *LichenError
	if stderrors.As(err, &lErr) {
		return lErr.Code
	}
	return ErrInternal
}
