package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that reach the caller of the sync core.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "NETWORK_ERROR"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindServer         ErrorKind = "SERVER_ERROR"
	KindParse          ErrorKind = "PARSE_ERROR"
	KindUnknown        ErrorKind = "UNKNOWN_ERROR"
	KindConnectionLost ErrorKind = "CONNECTION_LOST"
)

// RequestError is returned by the request client and the transport.
// StatusCode, Code and Details are only set for server responses.
type RequestError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	Code       string    `json:"code,omitempty"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is handled by backoff or reconnect
// rather than by the user.
func (e *RequestError) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindConnectionLost:
		return true
	}
	return false
}

// NewNetworkError creates a NETWORK_ERROR: no response reached the client.
func NewNetworkError(err error) *RequestError {
	return &RequestError{Kind: KindNetwork, Message: "no response from server", Err: err}
}

// NewTimeoutError creates a TIMEOUT error.
func NewTimeoutError(err error) *RequestError {
	return &RequestError{Kind: KindTimeout, Message: "request timed out", Err: err}
}

// NewServerError creates a SERVER_ERROR from a structured error body.
func NewServerError(status int, code, message string, details any) *RequestError {
	if message == "" {
		message = fmt.Sprintf("server returned status %d", status)
	}
	return &RequestError{
		Kind:       KindServer,
		Message:    message,
		StatusCode: status,
		Code:       code,
		Details:    details,
	}
}

// NewUnknownError creates an UNKNOWN_ERROR for a non-2xx response whose body
// could not be understood.
func NewUnknownError(status int) *RequestError {
	return &RequestError{
		Kind:       KindUnknown,
		Message:    fmt.Sprintf("unexpected response with status %d", status),
		StatusCode: status,
	}
}

// NewParseError creates a PARSE_ERROR for a malformed success body.
func NewParseError(err error) *RequestError {
	return &RequestError{Kind: KindParse, Message: "malformed response body", Err: err}
}

// NewConnectionLostError creates a CONNECTION_LOST error for a dropped push channel.
func NewConnectionLostError(err error) *RequestError {
	return &RequestError{Kind: KindConnectionLost, Message: "push channel lost", Err: err}
}

// KindOf returns the kind of the first RequestError in err's chain, or "".
func KindOf(err error) ErrorKind {
	if reqErr, ok := AsRequestError(err); ok {
		return reqErr.Kind
	}
	return ""
}

// AsRequestError returns the first RequestError in err's chain.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// UnauthorizedError indicates missing or invalid authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// NewUnauthorizedError creates a new UnauthorizedError.
func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}
