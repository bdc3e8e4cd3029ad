// Package errors defines the sentinel errors shared by the indexing and query
// pipelines, a typed per-document read error, and the mapping from errors to
// HTTP status codes used by the API handlers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("index not found")
	ErrAlreadyExists     = errors.New("index already exists")
	ErrEmptySource       = errors.New("document source is empty")
	ErrDocumentRead      = errors.New("document could not be read")
	ErrUnknownField      = errors.New("unknown field")
	ErrIndexNotOpen      = errors.New("index is not open")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRebuildInProgress = errors.New("index rebuild already in progress")
	ErrCorruptIndex      = errors.New("index is corrupt")
	ErrFileNotFound      = errors.New("file not found")
	ErrInternal          = errors.New("internal error")
)

// DocumentReadError reports a single document that was skipped during a
// rebuild. It matches ErrDocumentRead with errors.Is.
type DocumentReadError struct {
	Path string
	Err  error
}

func (e *DocumentReadError) Error() string {
	return fmt.Sprintf("reading document %s: %v", e.Path, e.Err)
}

func (e *DocumentReadError) Unwrap() error {
	return e.Err
}

func (e *DocumentReadError) Is(target error) bool {
	return target == ErrDocumentRead
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrRebuildInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIndexNotOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
