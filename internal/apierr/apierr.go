// Package apierr defines the router's caller-facing error kinds and the
// JSON envelope they are returned in.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidBody      Kind = "invalid_body"
	KindInvalidMessages  Kind = "invalid_messages"
	KindUnknownModel     Kind = "unknown_model"
	KindMethodNotAllowed Kind = "method_not_allowed"
	KindUpstream         Kind = "upstream_error"
	KindUpstreamTimeout  Kind = "upstream_timeout"
	KindInternal         Kind = "internal_error"
)

// Error is a kinded failure with the message shown to the caller. Status
// is only consulted for KindUpstream, where it carries the provider's own
// status code.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HTTPStatus maps the kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidBody, KindInvalidMessages, KindUnknownModel:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUpstream:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidBody(cause error) *Error {
	return New(KindInvalidBody, "Invalid JSON body", cause)
}

func InvalidMessages() *Error {
	return New(KindInvalidMessages, "Messages array is required", nil)
}

func UnknownModel(model string) *Error {
	return New(KindUnknownModel, "Unknown model: "+model, nil)
}

func MethodNotAllowed() *Error {
	return New(KindMethodNotAllowed, "Method not allowed. Use POST.", nil)
}

func Upstream(status int, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Status: status, Cause: cause}
}

func UpstreamTimeout(cause error) *Error {
	return New(KindUpstreamTimeout, "Upstream provider timed out", cause)
}

func Internal(cause error) *Error {
	msg := "Internal server error"
	if cause != nil {
		msg = cause.Error()
	}
	return New(KindInternal, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Body is the failure envelope: {"success": false, "error": "..."}.
type Body struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// BodyOf builds the envelope for e.
func BodyOf(e *Error) Body {
	return Body{Success: false, Error: e.Message}
}
