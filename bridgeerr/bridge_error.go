// Package bridgeerr provides the structured error type shared by the bridge
// packages. Errors carry a stable Kind so callers can branch on failure
// category without string matching, and they support errors.Is/As so the
// original cause chain survives wrapping.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies bridge failures into a small set of stable categories.
type Kind string

const (
	// KindMissingSessionID indicates a turn arrived without a resolvable
	// host session identifier.
	KindMissingSessionID Kind = "MISSING_SESSION_ID"

	// KindNotConnected indicates a send was attempted while no socket is open.
	KindNotConnected Kind = "NOT_CONNECTED"

	// KindConnectTimeout indicates the socket handshake did not complete
	// within the configured connect timeout.
	KindConnectTimeout Kind = "CONNECT_TIMEOUT"

	// KindConnectFailed indicates the socket handshake failed outright.
	KindConnectFailed Kind = "CONNECT_FAILED"

	// KindWorkflowCreateFailed indicates the workflow creation endpoint
	// rejected the request or returned an unusable response.
	KindWorkflowCreateFailed Kind = "WORKFLOW_CREATE_FAILED"

	// KindTokenUnavailable indicates a direct-access token could not be
	// issued. This kind is soft: callers proceed without the token.
	KindTokenUnavailable Kind = "TOKEN_UNAVAILABLE"

	// KindDecodeFailed indicates an inbound socket frame was not valid JSON.
	KindDecodeFailed Kind = "DECODE_FAILED"

	// KindHTTPPassthrough indicates an API passthrough request failed. The
	// failure is reported back to the workflow service, never to the host.
	KindHTTPPassthrough Kind = "HTTP_PASSTHROUGH_FAILED"

	// KindInvalidBridgeTool indicates a bridge tool payload failed
	// validation. Surfaced to the host as a synthetic "invalid" tool call.
	KindInvalidBridgeTool Kind = "INVALID_BRIDGE_TOOL"
)

// Error is the structured bridge failure. It pairs a Kind with a
// human-readable message and an optional cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New constructs an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Errorf constructs an Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that records cause. The cause remains reachable
// through errors.Is/As via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Kind returns the failure category.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the human-readable summary without the kind prefix.
func (e *Error) Message() string { return e.message }

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "bridge error"
	}
	return fmt.Sprintf("%s: %s", e.kind, msg)
}

// Unwrap returns the underlying cause to preserve the original error chain.
func (e *Error) Unwrap() error { return e.cause }

// As returns the first Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Is reports whether err's chain contains an Error of the given kind.
func Is(err error, kind Kind) bool {
	if be, ok := As(err); ok {
		return be.kind == kind
	}
	return false
}
