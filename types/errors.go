package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy tag carried by every error the core returns to callers.
type ErrorKind string

const (
	KindUnsupportedChain          ErrorKind = "UnsupportedChain"
	KindMalformedProof            ErrorKind = "MalformedProof"
	KindInsufficientConfirmations ErrorKind = "InsufficientConfirmations"
	KindExpiredProof              ErrorKind = "ExpiredProof"
	KindInvalidSignature          ErrorKind = "InvalidSignature"
	KindNotFound                  ErrorKind = "NotFound"
	KindInvalidStateTransition    ErrorKind = "InvalidStateTransition"
	KindTimelockNotExpired        ErrorKind = "TimelockNotExpired"
	KindTimelockExpired           ErrorKind = "TimelockExpired"
	KindUnauthorized              ErrorKind = "Unauthorized"
	KindProviderUnavailable       ErrorKind = "ProviderUnavailable"
	KindInvalidArgument           ErrorKind = "InvalidArgument"
	KindInternal                  ErrorKind = "Internal"
)

// Error pairs a taxonomy kind with a human readable detail.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// for every not-found error regardless of its detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnsupportedChain          error = &Error{Kind: KindUnsupportedChain}
	ErrMalformedProof            error = &Error{Kind: KindMalformedProof}
	ErrInsufficientConfirmations error = &Error{Kind: KindInsufficientConfirmations}
	ErrExpiredProof              error = &Error{Kind: KindExpiredProof}
	ErrInvalidSignature          error = &Error{Kind: KindInvalidSignature}
	ErrNotFound                  error = &Error{Kind: KindNotFound}
	ErrInvalidStateTransition    error = &Error{Kind: KindInvalidStateTransition}
	ErrTimelockNotExpired        error = &Error{Kind: KindTimelockNotExpired}
	ErrTimelockExpired           error = &Error{Kind: KindTimelockExpired}
	ErrUnauthorized              error = &Error{Kind: KindUnauthorized}
	ErrProviderUnavailable       error = &Error{Kind: KindProviderUnavailable}
	ErrInvalidArgument           error = &Error{Kind: KindInvalidArgument}
)

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the taxonomy kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the detail string of a taxonomy error, or err.Error().
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil && e.Detail != "" {
			return e.Detail + ": " + e.Err.Error()
		}
		if e.Detail != "" {
			return e.Detail
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	return err.Error()
}
