// Package kverrors defines the error-kind vocabulary shared by every layer
// of stackdb: the indices, the transaction stack, the native backend and the
// Database Handle all report failures through one of these kinds so a
// caller can classify an error without knowing which layer produced it.
package kverrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a stackdb error. See spec.md §7.
type Kind uint8

const (
	// KindNone is the zero value: Kind(nil) == KindNone.
	KindNone Kind = iota
	KindNotConnected
	KindConstraintViolation
	KindConflict
	KindClosed
	KindStackOverflow
	KindUnsupportedOperation
	KindStorageFailure
	KindSizeExceeded
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "NotConnected"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindConflict:
		return "Conflict"
	case KindClosed:
		return "Closed"
	case KindStackOverflow:
		return "StackOverflow"
	case KindUnsupportedOperation:
		return "UnsupportedOperation"
	case KindStorageFailure:
		return "StorageFailure"
	case KindSizeExceeded:
		return "SizeExceeded"
	default:
		return "None"
	}
}

// Error is a kverrors-classified error. It wraps an underlying cause (which
// may itself be wrapped with github.com/pkg/errors to retain a stack trace)
// without losing it: Unwrap returns Cause so errors.Is/As keep working.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare kverrors.Error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind+msg to cause, recording a stack trace at the Wrap call
// via pkg/errors.WithStack, so StorageFailure
// errors retain the native-backend failure for logs while Kind() still
// classifies them correctly.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Cause: pkgerrors.WithStack(cause)}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// GetKind classifies err, walking its Unwrap chain. Returns KindNone if err
// is nil or carries no kverrors.Error anywhere in its chain.
func GetKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindNone
}

// Is reports whether err's classified kind equals kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

var (
	ErrNotConnected         = New(KindNotConnected, "database is not connected")
	ErrClosed               = New(KindClosed, "transaction is not OPEN or NESTED")
	ErrStackOverflow        = New(KindStackOverflow, "object store stack depth exceeds MAX_STACK_SIZE")
	ErrUnsupportedOperation = New(KindUnsupportedOperation, "operation not supported in this state")
)
