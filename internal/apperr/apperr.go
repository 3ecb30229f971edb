// Package apperr defines the typed error kinds surfaced by the relationship,
// migration, validation and duplicate detection layers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. A Kind is itself an error so callers can match
// with errors.Is(err, apperr.NotFound).
type Kind string

func (k Kind) Error() string {
	return string(k)
}

const (
	// NotFound is returned when a referenced sale, child or field definition is absent.
	NotFound Kind = "NotFound"
	// AccessDenied is returned when the ownership or role check fails.
	AccessDenied Kind = "AccessDenied"
	// ValidationFailed is returned when a field value violates its definition.
	ValidationFailed Kind = "ValidationFailed"
	// IntegrityViolation is returned when a consistency check fails.
	IntegrityViolation Kind = "IntegrityViolation"
	// BackupUnavailable is returned when a rollback names a snapshot that does not exist.
	BackupUnavailable Kind = "BackupUnavailable"
	// PartialFailure is returned when a multi-step operation completed only some of its steps.
	PartialFailure Kind = "PartialFailure"
	// ConnectivityFailure is returned when the document store cannot be reached.
	ConnectivityFailure Kind = "ConnectivityFailure"
	// RollbackFailed is returned when a migration rollback itself failed. Neither the
	// migrated nor the original state is guaranteed to be consistent.
	RollbackFailed Kind = "RollbackFailed"
)

// Error is a domain error carrying its kind, the operation that raised it and
// an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New creates an error of the given kind.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind caused by err.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Partial builds a PartialFailure out of the failed steps. It returns nil when
// errs holds no error.
func Partial(op string, done, total int, errs ...error) error {
	joined := errors.Join(errs...)
	if joined == nil {
		return nil
	}

	return &Error{
		Kind: PartialFailure,
		Op:   op,
		Msg:  fmt.Sprintf("%d of %d steps completed", done, total),
		Err:  joined,
	}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the outermost domain error in err's chain, or
// the empty kind when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var k Kind
	if errors.As(err, &k) {
		return k
	}

	return ""
}
