// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package ir

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an upstream error body, resolved by the owning
// adapter's ParseError in two steps: upstream error code first, then the
// error type string.
type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindAuthentication ErrorKind = "authentication"
	ErrorKindPermission     ErrorKind = "permission"
	ErrorKindNotFound       ErrorKind = "not_found"
	ErrorKindRateLimit      ErrorKind = "rate_limit"
	ErrorKindAPI            ErrorKind = "api"
	ErrorKindServer         ErrorKind = "server"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// Error is an upstream error in canonical form.
type Error struct {
	Kind ErrorKind `json:"kind"`
	// Code is the upstream's own error code string, when present.
	Code string `json:"code,omitempty"`
	// Message is the upstream's error message.
	Message string `json:"message"`
	// StatusCode is the upstream HTTP status that carried the body.
	StatusCode int `json:"statusCode,omitempty"`
	// Raw is the verbatim upstream body, forwarded structurally when the
	// inbound dialect matches.
	Raw []byte `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %s error (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Kind, e.Message)
}

// Code is the gateway's own error taxonomy. The string form is the wire
// `code` value in error envelopes.
type Code string

const (
	CodeMissingAPIKey        Code = "MISSING_API_KEY"
	CodeInvalidAPIKey        Code = "INVALID_API_KEY"
	CodeProxyNotFound        Code = "PROXY_NOT_FOUND"
	CodeProviderNotFound     Code = "PROVIDER_NOT_FOUND"
	CodeProxyDisabled        Code = "PROXY_DISABLED"
	CodeProviderDisabled     Code = "PROVIDER_DISABLED"
	CodeCircularProxy        Code = "CIRCULAR_PROXY"
	CodeModelNotSupported    Code = "MODEL_NOT_SUPPORTED"
	CodeModelMappingRequired Code = "MODEL_MAPPING_REQUIRED"
	CodeProviderUnreachable  Code = "PROVIDER_UNREACHABLE"
	CodeConnectionTimeout    Code = "CONNECTION_TIMEOUT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeAdapterError         Code = "ADAPTER_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
)

// HTTPStatus returns the response status carried by the code.
// ADAPTER_ERROR callers substitute the upstream status when they have one.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeMissingAPIKey, CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case CodeProxyNotFound:
		return http.StatusNotFound
	case CodeProviderNotFound, CodeProviderDisabled:
		return http.StatusServiceUnavailable
	case CodeProxyDisabled:
		return http.StatusForbidden
	case CodeModelNotSupported, CodeModelMappingRequired, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeProviderUnreachable, CodeAdapterError:
		return http.StatusBadGateway
	case CodeConnectionTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default: // CIRCULAR_PROXY, INTERNAL_ERROR, unknown codes
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may retry the same request.
func (c Code) Retryable() bool {
	switch c {
	case CodeProviderUnreachable, CodeConnectionTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}

// GatewayError is a request failure originating in the gateway itself
// (auth, resolution, mapping, transport), as opposed to a structured
// upstream error body.
type GatewayError struct {
	Code    Code
	Message string
	// Status overrides Code.HTTPStatus when non-zero, e.g. ADAPTER_ERROR
	// forwarding the upstream status.
	Status int
	// Err is the underlying cause, if any.
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPStatus returns the status to write for this error.
func (e *GatewayError) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Code.HTTPStatus()
}

// NewGatewayError returns a GatewayError with the given code and message.
func NewGatewayError(code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// GatewayErrorf formats a GatewayError, wrapping any %w operand.
func GatewayErrorf(code Code, format string, args ...any) *GatewayError {
	err := fmt.Errorf(format, args...)
	return &GatewayError{Code: code, Message: err.Error(), Err: errors.Unwrap(err)}
}

// AsGatewayError unwraps err to a GatewayError, if one is in the chain.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	ok := errors.As(err, &ge)
	return ge, ok
}
