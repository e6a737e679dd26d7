// Package domainerrors defines the coded error type shared by services and transports.
//
// Services return *Error values carrying a Code; transports map the Code onto a
// status (see pkg/platform/httputil). Infrastructure layers should return
// sentinel errors instead and let services translate them.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error. Codes are stable strings that are safe to
// expose to API clients.
type Code string

const (
	// Wallet provider and session
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeUserRejected        Code = "user_rejected"
	CodeProviderError       Code = "provider_error"
	CodeProviderTimeout     Code = "provider_timeout"
	CodeNotConnected        Code = "not_connected"
	CodeSessionExpired      Code = "session_expired"

	// Network guard
	CodeNetworkSwitchDenied Code = "network_switch_denied"
	CodeNetworkAddFailed    Code = "network_add_failed"

	// Issuance
	CodeSigningRejected Code = "signing_rejected"
	CodeAnchorFailed    Code = "anchor_failed"

	// Verification (mirrored by service.Reason, never raised by Verify)
	CodeInvalidEncoding  Code = "invalid_encoding"
	CodeSchemaViolation  Code = "schema_violation"
	CodeSignatureInvalid Code = "signature_invalid"
	CodeNotAnchored      Code = "not_anchored"

	// Generic
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the outermost coded error in err's chain has the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of the outermost coded error, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message of the outermost coded error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
