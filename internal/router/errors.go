// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/isboyjc/amux/internal/adapter"
	anthropicschema "github.com/isboyjc/amux/internal/apischema/anthropic"
	geminischema "github.com/isboyjc/amux/internal/apischema/gemini"
	openaischema "github.com/isboyjc/amux/internal/apischema/openai"
	"github.com/isboyjc/amux/internal/ir"
)

// errorEnvelope renders err in the inbound dialect's error shape.
// Structured upstream bodies pass through verbatim when present.
func errorEnvelope(dialect string, err error) (status int, body []byte) {
	var uerr *ir.Error
	if errors.As(err, &uerr) {
		status = uerr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		if len(uerr.Raw) > 0 {
			return status, uerr.Raw
		}
		return status, marshalEnvelope(dialect, status, errorTypeForKind(dialect, uerr.Kind), uerr.Code, uerr.Message)
	}

	ge, ok := ir.AsGatewayError(err)
	if !ok {
		ge = &ir.GatewayError{Code: ir.CodeInternalError, Message: err.Error()}
	}
	status = ge.HTTPStatus()
	return status, marshalEnvelope(dialect, status, errorTypeForStatus(dialect, status), string(ge.Code), ge.Message)
}

func marshalEnvelope(dialect string, status int, errType, code, message string) []byte {
	switch dialect {
	case adapter.NameAnthropic:
		body, _ := json.Marshal(&anthropicschema.ErrorResponse{
			Type:  "error",
			Error: anthropicschema.ErrorDetail{Type: errType, Message: message},
		})
		return body
	case adapter.NameGoogle:
		body, _ := json.Marshal(&geminischema.ErrorResponse{
			Error: geminischema.ErrorDetail{Code: status, Message: message, Status: errType},
		})
		return body
	default: // the OpenAI family, responses included
		body, _ := json.Marshal(&openaischema.ErrorResponse{
			Error: openaischema.ErrorDetail{Message: message, Type: errType, Code: code},
		})
		return body
	}
}

// errorTypeForKind maps a canonical upstream error kind onto the
// dialect's error type vocabulary.
func errorTypeForKind(dialect string, kind ir.ErrorKind) string {
	switch dialect {
	case adapter.NameAnthropic:
		switch kind {
		case ir.ErrorKindValidation:
			return anthropicschema.ErrorTypeInvalidRequest
		case ir.ErrorKindAuthentication:
			return anthropicschema.ErrorTypeAuthentication
		case ir.ErrorKindPermission:
			return anthropicschema.ErrorTypePermission
		case ir.ErrorKindNotFound:
			return anthropicschema.ErrorTypeNotFound
		case ir.ErrorKindRateLimit:
			return anthropicschema.ErrorTypeRateLimit
		case ir.ErrorKindServer:
			return anthropicschema.ErrorTypeOverloaded
		default:
			return anthropicschema.ErrorTypeAPI
		}
	case adapter.NameGoogle:
		switch kind {
		case ir.ErrorKindValidation:
			return "INVALID_ARGUMENT"
		case ir.ErrorKindAuthentication:
			return "UNAUTHENTICATED"
		case ir.ErrorKindPermission:
			return "PERMISSION_DENIED"
		case ir.ErrorKindNotFound:
			return "NOT_FOUND"
		case ir.ErrorKindRateLimit:
			return "RESOURCE_EXHAUSTED"
		default:
			return "INTERNAL"
		}
	default:
		switch kind {
		case ir.ErrorKindValidation:
			return "invalid_request_error"
		case ir.ErrorKindAuthentication:
			return "authentication_error"
		case ir.ErrorKindPermission:
			return "permission_error"
		case ir.ErrorKindNotFound:
			return "not_found_error"
		case ir.ErrorKindRateLimit:
			return "rate_limit_error"
		case ir.ErrorKindServer:
			return "server_error"
		default:
			return "api_error"
		}
	}
}

// errorTypeForStatus maps a gateway-originated status onto the dialect's
// error type vocabulary.
func errorTypeForStatus(dialect string, status int) string {
	var kind ir.ErrorKind
	switch {
	case status == http.StatusUnauthorized:
		kind = ir.ErrorKindAuthentication
	case status == http.StatusForbidden:
		kind = ir.ErrorKindPermission
	case status == http.StatusNotFound:
		kind = ir.ErrorKindNotFound
	case status == http.StatusTooManyRequests:
		kind = ir.ErrorKindRateLimit
	case status >= 500:
		kind = ir.ErrorKindServer
	default:
		kind = ir.ErrorKindValidation
	}
	return errorTypeForKind(dialect, kind)
}
