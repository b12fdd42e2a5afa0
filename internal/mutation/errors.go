package mutation

import (
	"errors"
	"fmt"
)

// ValidationCode says why a mutation was rejected before any network trip.
type ValidationCode string

const (
	CodeInvalid   ValidationCode = "invalid"
	CodeNotFound  ValidationCode = "not_found"
	CodeConflict  ValidationCode = "conflict"
	CodeForbidden ValidationCode = "forbidden"
)

// ValidationError rejects a mutation synchronously. It never enters the retry queue.
type ValidationError struct {
	Code    ValidationCode
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeInvalid, Message: fmt.Sprintf(format, args...), Err: err}
}

func notFound(format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *ValidationError {
	return &ValidationError{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

// CommitError reports a remote commit failure. The local view was rolled
// back and the mutation is held in the pending log for retry.
type CommitError struct {
	MutationID string
	Operation  string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s %s not saved, queued for retry: %v", e.Operation, e.MutationID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

var (
	// ErrNotQueued is returned for retry or abandon of an unknown pending id.
	ErrNotQueued = errors.New("mutation is not queued")
	// ErrRetryInProgress is returned when the same pending mutation is already being retried.
	ErrRetryInProgress = errors.New("mutation retry already in progress")
)

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsQueued reports whether err means the mutation was queued for retry.
func IsQueued(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
