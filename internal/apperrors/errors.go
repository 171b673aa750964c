package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeConfigMissing   = "CONFIG_MISSING"
	CodeExternalService = "EXTERNAL_SERVICE_ERROR"
	CodePersistence     = "PERSISTENCE_ERROR"
	CodeParse           = "PARSE_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// AppError is a classified application error.
type AppError struct {
	Code       string
	Message    string
	StatusCode int // Same rule as HTTP status codes
	Err        error
}

// Error returns a string representation of the error
func (e AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError with the same code.
func (e AppError) Is(target error) bool {
	if target, ok := target.(AppError); ok {
		return target.Code == e.Code
	}
	return false
}

// Unwrap returns the underlying error
func (e AppError) Unwrap() error {
	return e.Err
}

// Sentinels for errors.Is checks.
var (
	ErrValidation      = AppError{Code: CodeValidation}
	ErrConfigMissing   = AppError{Code: CodeConfigMissing}
	ErrExternalService = AppError{Code: CodeExternalService}
	ErrPersistence     = AppError{Code: CodePersistence}
	ErrParse           = AppError{Code: CodeParse}
	ErrNotFound        = AppError{Code: CodeNotFound}
)

// NewValidationError creates a new validation error
func NewValidationError(message string) AppError {
	return AppError{
		Code:       CodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewConfigMissingError is returned when a COA section is absent. Callers
// treat it as a warning and fall back to an empty report.
func NewConfigMissingError(message string) AppError {
	return AppError{
		Code:       CodeConfigMissing,
		Message:    message,
		StatusCode: http.StatusOK,
	}
}

func NewExternalServiceError(message string, err error) AppError {
	return AppError{
		Code:       CodeExternalService,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

func NewPersistenceError(message string, err error) AppError {
	return AppError{
		Code:       CodePersistence,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewParseError(message string, err error) AppError {
	return AppError{
		Code:       CodeParse,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) AppError {
	return AppError{
		Code:       CodeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// StatusCode returns the HTTP status for err, 500 when it is not an AppError.
func StatusCode(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var appErr AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Internal server error"
}
