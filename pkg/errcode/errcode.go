// Package errcode defines the error kinds returned by the signing, key encoding
// and joiner admission packages.
//
// Every failure is an *Error carrying a coarse Code and a context message.
// Callers classify failures with errors.Is against the package sentinels:
//
//	if errors.Is(err, errcode.ErrSecurity) {
//	    // reject the peer
//	}
//
// Security failures deliberately carry no detail about which check failed.
package errcode

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code uint8

const (
	// Unknown is an unexpected backend failure not otherwise classified.
	Unknown Code = iota

	// InvalidArgs indicates malformed or missing caller-supplied data.
	InvalidArgs

	// BadFormat indicates wire bytes that do not parse as the expected structure.
	BadFormat

	// Security indicates that signature creation or verification failed.
	Security

	// OutOfMemory indicates an allocation failure in the codec.
	OutOfMemory

	// EncodingFailed indicates an encode size bound was exceeded or
	// map serialization failed.
	EncodingFailed

	// UnsupportedKey indicates a key of the wrong family or on an unsupported
	// curve. It also matches ErrInvalidArgs.
	UnsupportedKey

	// InvalidState indicates an operation called at the wrong point of an
	// object's lifecycle.
	InvalidState
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case InvalidArgs:
		return "INVALID_ARGS"
	case BadFormat:
		return "BAD_FORMAT"
	case Security:
		return "SECURITY"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case EncodingFailed:
		return "ENCODING_FAILED"
	case UnsupportedKey:
		return "UNSUPPORTED_KEY"
	case InvalidState:
		return "INVALID_STATE"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified error with a context message.
type Error struct {
	Code    Code
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinel errors for errors.Is.
var (
	ErrUnknown        = &Error{Code: Unknown}
	ErrInvalidArgs    = &Error{Code: InvalidArgs}
	ErrBadFormat      = &Error{Code: BadFormat}
	ErrSecurity       = &Error{Code: Security}
	ErrOutOfMemory    = &Error{Code: OutOfMemory}
	ErrEncodingFailed = &Error{Code: EncodingFailed}
	ErrUnsupportedKey = &Error{Code: UnsupportedKey}
	ErrInvalidState   = &Error{Code: InvalidState}
)

// New returns an error of the given code with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given code that wraps err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Code.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same code.
// An UnsupportedKey error also matches InvalidArgs.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return e.Code == UnsupportedKey && t.Code == InvalidArgs
}

// CodeOf returns the code of the first *Error in err's chain.
// It returns Unknown for nil or unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
