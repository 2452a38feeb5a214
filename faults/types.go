package faults

import (
	"errors"
	"fmt"
)

type ErrorCategory string

const (
	AuthError                ErrorCategory = "AuthError"
	ParameterValidationError ErrorCategory = "ParameterValidationError"
	RepositoryError          ErrorCategory = "RepositoryError"
	APIRequestError          ErrorCategory = "APIRequestError"
	DependencyUnmetError     ErrorCategory = "DependencyUnmetError"
	ProvisioningError        ErrorCategory = "ProvisioningError"
	InputError               ErrorCategory = "InputError"
	ParsingError             ErrorCategory = "ParsingError"
)

// fatalCategories abort the whole run; everything else is recorded against
// the item being processed and siblings continue.
var fatalCategories = map[ErrorCategory]bool{
	AuthError:                true,
	ParameterValidationError: true,
	RepositoryError:          true,
	InputError:               true,
}

type TypedError struct {
	Category ErrorCategory
	Message  string
	Cause    error
}

func (e *TypedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" && e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Category)
}

func (e *TypedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(category ErrorCategory, message string, cause error) *TypedError {
	return &TypedError{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

func Newf(category ErrorCategory, format string, args ...any) *TypedError {
	return &TypedError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

func IsCategory(err error, category ErrorCategory) bool {
	if err == nil {
		return false
	}

	var typedErr *TypedError
	if !errors.As(err, &typedErr) {
		return false
	}
	return typedErr.Category == category
}

// IsFatal reports whether the error must abort the whole deployment run
// rather than being recorded against a single item.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var typedErr *TypedError
	if !errors.As(err, &typedErr) {
		return false
	}
	return fatalCategories[typedErr.Category]
}

// APIStatus describes a terminal API failure: the HTTP status, the platform
// error code from the x-ms-public-api-error-code header or the response body,
// and the human-readable message body.
type APIStatus struct {
	Method     string
	URL        string
	StatusCode int
	ErrorCode  string
	Message    string
}

func (s *APIStatus) Error() string {
	if s == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s %s returned %d", s.Method, s.URL, s.StatusCode)
	if s.ErrorCode != "" {
		msg += " (" + s.ErrorCode + ")"
	}
	if s.Message != "" {
		msg += ": " + s.Message
	}
	return msg
}

// StatusOf extracts the APIStatus wrapped anywhere in err, if present.
func StatusOf(err error) (*APIStatus, bool) {
	if err == nil {
		return nil, false
	}
	var status *APIStatus
	if errors.As(err, &status) {
		return status, true
	}
	return nil, false
}
