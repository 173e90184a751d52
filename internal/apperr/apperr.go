package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kinds of failure a caller can branch on with errors.Is.
var (
	ErrAuthRequired     = errors.New("authentication required")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransientIO      = errors.New("transient i/o error")
)

// kindError carries a kind plus a human message and an optional cause.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *kindError) Is(target error) bool { return target == e.kind }

func (e *kindError) Unwrap() error { return e.cause }

// Cause keeps pkg/errors.Cause usable on wrapped values.
func (e *kindError) Cause() error { return e.cause }

func newKind(kind error, cause error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func AuthRequired(format string, args ...any) error {
	return newKind(ErrAuthRequired, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newKind(ErrNotFound, nil, format, args...)
}

func Validation(format string, args ...any) error {
	return newKind(ErrValidation, nil, format, args...)
}

func PermissionDenied(format string, args ...any) error {
	return newKind(ErrPermissionDenied, nil, format, args...)
}

// TransientIO wraps a network or store failure.
func TransientIO(cause error, format string, args ...any) error {
	if cause == nil {
		return newKind(ErrTransientIO, nil, format, args...)
	}
	return newKind(ErrTransientIO, cause, format, args...)
}

// Kind returns the sentinel err belongs to, or nil for untyped errors.
func Kind(err error) error {
	for _, k := range []error{ErrAuthRequired, ErrNotFound, ErrValidation, ErrPermissionDenied, ErrTransientIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
