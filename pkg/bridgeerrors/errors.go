// Package bridgeerrors defines the typed error kinds that cross the
// boundary between the workflow bridge and its two neighbors, the Host
// and the Service.
package bridgeerrors

import (
	"errors"
	"fmt"
)

// Kind identifies a machine-readable error category.
type Kind string

const (
	// MissingSessionID means the Host request carried no resolvable
	// session identifier (neither providerOptions nor the fallback header).
	MissingSessionID Kind = "MISSING_SESSION_ID"

	// NotConnected means a send was attempted with no open socket.
	NotConnected Kind = "NOT_CONNECTED"

	// ConnectTimeout means the socket handshake did not complete within
	// the configured connect timeout.
	ConnectTimeout Kind = "CONNECT_TIMEOUT"

	// ConnectFailed means the socket dial failed for a reason other than
	// timeout.
	ConnectFailed Kind = "CONNECT_FAILED"

	// WorkflowCreateFailed means the workflow-creation REST call returned
	// an error body or a non-2xx status.
	WorkflowCreateFailed Kind = "WORKFLOW_CREATE_FAILED"

	// TokenUnavailable is a soft failure: callers proceed without a token.
	TokenUnavailable Kind = "TOKEN_UNAVAILABLE"

	// DecodeFailed means a socket frame failed to parse as JSON.
	DecodeFailed Kind = "DECODE_FAILED"

	// HTTPPassthroughFailed means the runHTTPRequest passthrough call
	// failed; it is reported back to the Service, never thrown upward.
	HTTPPassthroughFailed Kind = "HTTP_PASSTHROUGH_FAILED"

	// InvalidBridgeTool means a bridge-tool JSON payload failed schema
	// validation; it is surfaced as a synthetic "invalid" tool call.
	InvalidBridgeTool Kind = "INVALID_BRIDGE_TOOL"
)

// Error is the bridge's wrapped error type. It always carries a Kind so
// callers can branch with errors.As without string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, anywhere in its
// Unwrap chain.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
