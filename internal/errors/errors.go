// Package errors provides structured error types for task-viewer.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for task-viewer.
const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeResourceExhausted    Code = "RESOURCE_EXHAUSTED"
	CodeParseError           Code = "PARSE_ERROR"
	CodeExternalProcessError Code = "EXTERNAL_PROCESS_ERROR"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryUnavailable
	CategoryInternal
)

var codeCategories = map[Code]Category{
	CodeNotFound:             CategoryNotFound,
	CodeInvalidArgument:      CategoryBadRequest,
	CodeResourceExhausted:    CategoryUnavailable,
	CodeParseError:           CategoryInternal,
	CodeExternalProcessError: CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryBadRequest:
		return http.StatusBadRequest
	case CategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error type. Matching with errors.Is compares codes.
type Error struct {
	Code  Code
	What  string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted}
	ErrParse             = &Error{Code: CodeParseError}
	ErrExternalProcess   = &Error{Code: CodeExternalProcessError}
)

// NotFound returns a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, What: fmt.Sprintf(format, args...)}
}

// InvalidArgument returns an INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, What: fmt.Sprintf(format, args...)}
}

// ResourceExhausted returns a RESOURCE_EXHAUSTED error.
func ResourceExhausted(format string, args ...any) *Error {
	return &Error{Code: CodeResourceExhausted, What: fmt.Sprintf(format, args...)}
}

// Parse wraps a decoding failure of the named source.
func Parse(source string, cause error) *Error {
	return &Error{Code: CodeParseError, What: fmt.Sprintf("parsing %s", source), Cause: cause}
}

// ExternalProcess wraps a subprocess failure.
func ExternalProcess(what string, cause error) *Error {
	return &Error{Code: CodeExternalProcessError, What: what, Cause: cause}
}
