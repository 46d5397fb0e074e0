// Package proxyerr defines the error taxonomy shared by the session, the
// endpoint and the client.
//
// Expected domain failures (backend errors, missing methods, failed
// initialization) are values of the types below and travel across the
// socket as an error text plus a code; the client rebuilds the same types
// with FromWire so callers can classify failures with errors.Is and
// errors.As on either side of the socket.
package proxyerr

import (
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrBackendUnavailable marks a backend capability that is missing or
	// cannot be instantiated. Fatal to the connect attempt only.
	ErrBackendUnavailable = errors.ConstError("backend unavailable")

	// ErrUnsupportedMethod marks a method name that does not exist on the
	// backend capability surface. The operation manager turns it into an
	// envelope error, so it never reaches a client as its own type.
	ErrUnsupportedMethod = errors.ConstError("unsupported method")
)

// Wire codes carried in message.Response.ErrorCode.
const (
	CodeConnectionFailure = "connection_failure"
	CodeRemoteCall        = "remote_call_error"
	CodeBadRequest        = "bad_request"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// ConnectionFailure reports that establishing (or keeping) the backend
// connection failed. The process stays alive and the next call retries.
type ConnectionFailure struct {
	Messages []string
}

// NewConnectionFailure builds a ConnectionFailure from one or more messages.
func NewConnectionFailure(messages ...string) *ConnectionFailure {
	return &ConnectionFailure{Messages: messages}
}

func (e *ConnectionFailure) Error() string {
	return strings.Join(e.Messages, "; ")
}

// RemoteCallError reports that a dispatched operation produced errors.
// It does not by itself reset the connection.
type RemoteCallError struct {
	Method   string
	Messages []string
	cause    error
}

// NewRemoteCallError builds a RemoteCallError for method from envelope errors.
func NewRemoteCallError(method string, messages ...string) *RemoteCallError {
	return &RemoteCallError{Method: method, Messages: messages}
}

// WrapRemoteCall wraps a backend domain error raised while calling method.
func WrapRemoteCall(method string, cause error) *RemoteCallError {
	return &RemoteCallError{Method: method, Messages: []string{cause.Error()}, cause: cause}
}

func (e *RemoteCallError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Unwrap exposes the backend error, when there is one.
func (e *RemoteCallError) Unwrap() error {
	return e.cause
}

// Code classifies err for the wire.
func Code(err error) string {
	var connectionFailure *ConnectionFailure
	if errors.As(err, &connectionFailure) {
		return CodeConnectionFailure
	}
	var remoteCall *RemoteCallError
	if errors.As(err, &remoteCall) {
		return CodeRemoteCall
	}
	if errors.Is(err, errors.NotValid) || errors.Is(err, errors.BadRequest) {
		return CodeBadRequest
	}
	if errors.Is(err, errors.QuotaLimitExceeded) {
		return CodeRateLimited
	}
	return CodeInternal
}

// FromWire rebuilds a typed error from a response's error text and code.
func FromWire(method, code, text string) error {
	switch code {
	case CodeConnectionFailure:
		return NewConnectionFailure(text)
	case CodeRemoteCall:
		return NewRemoteCallError(method, text)
	case CodeBadRequest:
		return errors.BadRequestf("%s", text)
	case CodeRateLimited:
		return errors.QuotaLimitExceededf("%s", text)
	}
	return errors.New(text)
}
