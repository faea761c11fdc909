// Package apierr is the error taxonomy from spec.md §7: a stable Kind plus
// a Code/Message pair that internal/v1/httpapi maps to HTTP status codes
// and internal/v1/collab maps to WebSocket error frames. The teacher
// returns bare gin.H{"error": ...} bodies; this adds the typed Kind so
// both transports classify failures the same way.
package apierr

import "fmt"

// Kind classifies an error for consistent handling at every transport
// boundary, per spec.md §7's propagation policy.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindStorage    Kind = "storage"
	KindUpstream   Kind = "upstream"
	KindInternal   Kind = "internal"
)

// HTTPStatus is the conventional HTTP status code for a Kind, used by
// httpapi to translate Error values into responses.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindForbidden:
		return 403
	case KindConflict:
		return 409
	case KindStorage, KindUpstream, KindInternal, KindTransport:
		return 500
	default:
		return 500
	}
}

// Error is the stable, transport-agnostic error value. Code is a short
// machine-readable slug; Message is operator/caller facing.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.cause)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error that carries cause for logging, without leaking its
// text to callers by default (Message stays caller-facing).
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Validation/NotFound/Forbidden/Conflict/Storage/Upstream/Internal are
// shorthand constructors for the common cases.

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }
func Forbidden(code, message string) *Error  { return New(KindForbidden, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }

func Storage(code, message string, cause error) *Error {
	return Wrap(KindStorage, code, message, cause)
}

func Upstream(code, message string, cause error) *Error {
	return Wrap(KindUpstream, code, message, cause)
}

func Internal(code, message string, cause error) *Error {
	return Wrap(KindInternal, code, message, cause)
}
