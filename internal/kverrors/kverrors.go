// Package kverrors implements an error taxonomy: not-found,
// invalid-argument, corruption, io, and lock-timeout. A storage engine
// that returns plain sentinel errors (ErrValueNotFound and friends) gets
// errors.Is/errors.As support for free; this keeps that sentinel-driven
// shape while adding a Kind tag so the façade can classify a failure
// without string-matching it.
package kverrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error.
type Kind int

const (
	// KindNotFound: key absent or meta stale-on-read.
	KindNotFound Kind = iota + 1
	// KindInvalidArgument: precondition violation.
	KindInvalidArgument
	// KindCorruption: internal invariant breach or aggregated cross-type failure.
	KindCorruption
	// KindIO: passed through from the underlying store.
	KindIO
	// KindLockTimeout: lock acquisition failed; caller may retry.
	KindLockTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindCorruption:
		return "corruption"
	case KindIO:
		return "io"
	case KindLockTimeout:
		return "lock-timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause (if any) with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, kverrors.NotFound) match any *Error of that Kind,
// not just a pointer-identical sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound is the canonical not-found sentinel; errors.Is(err,
// kverrors.NotFound) matches any *Error with KindNotFound.
var NotFound = &Error{Kind: KindNotFound, Msg: "not found"}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

// InvalidArgumentf builds a KindInvalidArgument error.
func InvalidArgumentf(format string, args ...interface{}) error {
	return New(KindInvalidArgument, format, args...)
}

// Corruptionf builds a KindCorruption error.
func Corruptionf(format string, args ...interface{}) error {
	return New(KindCorruption, format, args...)
}

// LockTimeoutf builds a KindLockTimeout error.
func LockTimeoutf(format string, args ...interface{}) error {
	return New(KindLockTimeout, format, args...)
}

// WrapIO tags an error returned by the underlying store as KindIO,
// preserving it as the cause so errors.As can still recover the original
// pebble-level error. Uses cockroachdb/errors.Wrapf (the wrapping library
// the pebble lineage itself depends on) so the wrapped error also carries
// a stack trace for diagnostics.
func WrapIO(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Msg: fmt.Sprintf(format, args...), Err: errors.Wrapf(err, "store i/o")}
}

// Of reports the Kind of err, or 0 if err is nil or not an *Error.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err has the given Kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
