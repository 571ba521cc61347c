// Package apperr maps domain errors onto the stable categories the HTTP
// surface exposes. Callers receive a machine-readable code plus a message;
// internal and upstream failures never leak provider details.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindGateway
	KindSignature
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause while keeping the stable code/message pair.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation, Conflict etc. are shorthand constructors for the common kinds.
func Validation(code, message string, err error) *Error {
	return Wrap(KindValidation, code, message, err)
}

func Conflict(code, message string, err error) *Error {
	return Wrap(KindConflict, code, message, err)
}

func NotFound(code, message string, err error) *Error {
	return Wrap(KindNotFound, code, message, err)
}

func Forbidden(message string, err error) *Error {
	return Wrap(KindForbidden, "FORBIDDEN", message, err)
}

func Gateway(message string, err error) *Error {
	return Wrap(KindGateway, "GATEWAY_ERROR", message, err)
}

func Signature(message string, err error) *Error {
	return Wrap(KindSignature, "INVALID_SIGNATURE", message, err)
}

// KindOf extracts the kind from an error chain; unknown errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// As returns the app error from a chain, if any.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
