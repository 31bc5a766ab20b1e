// Package golemerr implements the closed error taxonomy of §7: every
// failure the engine surfaces to a caller carries one of these Codes so the
// CLI (or any other RPC client) can map it to an exit code or a structured
// failure envelope without parsing message text.
package golemerr

import (
	"errors"
	"fmt"
)

// Code is a taxonomy tag from §7. The set is closed: adding a new Code is a
// deliberate protocol change, not something call sites should invent ad hoc.
type Code string

const (
	// NonDeterministic is fatal to the worker and requires an operator revert.
	NonDeterministic Code = "NonDeterministic"
	WorkerNotFound   Code = "WorkerNotFound"
	ComponentNotFound Code = "ComponentNotFound"
	// VersionConflict indicates a constraint violation during update.
	VersionConflict      Code = "VersionConflict"
	MalformedArchive      Code = "MalformedArchive"
	InitialFileNotFound   Code = "InitialFileNotFound"
	TransformerNotFound   Code = "TransformerNotFound"
	TransformationFailed  Code = "TransformationFailed"
	StorageError          Code = "StorageError"
	RpcTransport          Code = "RpcTransport"
	// RpcRemote carries a result<_, err> propagated from the callee.
	RpcRemote             Code = "RpcRemote"
	Interrupted           Code = "Interrupted"
	Timeout               Code = "Timeout"
	Cancelled             Code = "Cancelled"
	InvalidRequest        Code = "InvalidRequest"
	ResourceLimitExceeded Code = "ResourceLimitExceeded"
)

// TransformationFailureKind distinguishes the three ways a transformer call
// can fail (§7: TransformationFailed{Failure|RequestError|HttpStatus}).
type TransformationFailureKind string

const (
	TransformFailure      TransformationFailureKind = "failure"
	TransformRequestError TransformationFailureKind = "request_error"
	TransformHTTPStatus   TransformationFailureKind = "http_status"
)

// Error is the taxonomy-tagged error type every core component returns.
// Callers use errors.As to recover the Code; fmt.Errorf("...: %w", err)
// chains stay idiomatic via Unwrap.
type Error struct {
	Code    Code
	Message string
	// TransformKind is set only when Code == TransformationFailed.
	TransformKind TransformationFailureKind
	// HTTPStatus is set only when TransformKind == TransformHTTPStatus.
	HTTPStatus int

	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap tags an underlying error with a Code, preserving it as the Unwrap
// target, the way the teacher's storage/BPF layers wrap with fmt.Errorf.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Transformation builds a TransformationFailed error of the given kind.
func Transformation(kind TransformationFailureKind, message string, httpStatus int, cause error) *Error {
	return &Error{
		Code:          TransformationFailed,
		Message:       message,
		TransformKind: kind,
		HTTPStatus:    httpStatus,
		Cause:         cause,
	}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
