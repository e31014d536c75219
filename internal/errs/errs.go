// Package errs defines the typed error taxonomy shared across delta-core.
//
// Every public operation returns an error that can be inspected with KindOf,
// matching the seven error kinds of the messaging core: uninitialized,
// invalid input, unauthorized, token, crypto, persistence and network.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for callers that need to branch on it (e.g. the
// FFI boundary translating to a UI-facing error code).
type Kind int

const (
	KindUnknown Kind = iota
	KindUninitialized
	KindInvalidInput
	KindUnauthorized
	KindToken
	KindCrypto
	KindPersistence
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUninitialized:
		return "uninitialized"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindToken:
		return "token"
	case KindCrypto:
		return "crypto"
	case KindPersistence:
		return "persistence"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a stack-carrying message.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// KindOf reports the classification of err, or KindUnknown if err was not
// produced by this package.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return KindUnknown
}

func new_(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: errors.WithStack(err)}
}

func Uninitialized(format string, args ...interface{}) error {
	return new_(KindUninitialized, format, args...)
}

func InvalidInput(format string, args ...interface{}) error {
	return new_(KindInvalidInput, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return new_(KindUnauthorized, format, args...)
}

func Token(format string, args ...interface{}) error {
	return new_(KindToken, format, args...)
}

func Crypto(format string, args ...interface{}) error {
	return new_(KindCrypto, format, args...)
}

func WrapCrypto(err error, format string, args ...interface{}) error {
	return wrap(KindCrypto, err, format, args...)
}

func Persistence(format string, args ...interface{}) error {
	return new_(KindPersistence, format, args...)
}

func WrapPersistence(err error, format string, args ...interface{}) error {
	return wrap(KindPersistence, err, format, args...)
}

func Network(format string, args ...interface{}) error {
	return new_(KindNetwork, format, args...)
}

func WrapNetwork(err error, format string, args ...interface{}) error {
	return wrap(KindNetwork, err, format, args...)
}
