package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ConflictError is a business-rule violation (already registered, event full,
// invalid state transition...). It is surfaced verbatim to the caller and is
// never retried.
type ConflictError struct {
	msg string
}

func NewConflictError(msg string) *ConflictError {
	return &ConflictError{msg}
}

func (err *ConflictError) Error() string {
	return err.msg
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

// StorageError marks a transient persistence failure (connection lost,
// statement timeout...). Callers may retry with backoff.
type StorageError struct {
	Err error
}

func NewStorageError(err error) error {
	return &StorageError{Err: err}
}

func (err *StorageError) Error() string {
	if err.Err == nil {
		return "storage unavailable"
	}
	return "storage unavailable: " + err.Err.Error()
}

func IsStorageUnavailable(err error) bool {
	_, ok := errors.Cause(err).(*StorageError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s *shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
