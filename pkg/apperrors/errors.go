package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrConnectionLimit     = errors.New("connection limit reached")
	ErrShutdown            = errors.New("shutting down")
	ErrTunnelDisabled      = errors.New("ssh tunnel support is disabled")
	ErrInvalidRole         = errors.New("invalid role")
	ErrCredentialsMismatch = errors.New("credentials were encrypted with a different key")
)

// Kind identifies an error category and its wire code. The set is closed;
// every kind maps to exactly one HTTP status.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindAuthentication Kind = "AUTHENTICATION_ERROR"
	KindAuthorization  Kind = "AUTHORIZATION_ERROR"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindRateLimit      Kind = "RATE_LIMIT_EXCEEDED"
	KindInternal       Kind = "INTERNAL_ERROR"
	KindBadGateway     Kind = "BAD_GATEWAY"
	KindUnavailable    Kind = "SERVICE_UNAVAILABLE"
	KindGatewayTimeout Kind = "GATEWAY_TIMEOUT"

	KindCircuitOpen    Kind = "CIRCUIT_OPEN"
	KindPoolExhausted  Kind = "POOL_EXHAUSTED"
	KindTestFailed     Kind = "CONNECTION_TEST_FAILED"
	KindDiscovery      Kind = "DISCOVERY_FAILED"
	KindCrypto         Kind = "CRYPTO_ERROR"
)

var kindStatus = map[Kind]int{
	KindValidation:     http.StatusBadRequest,
	KindAuthentication: http.StatusUnauthorized,
	KindAuthorization:  http.StatusForbidden,
	KindNotFound:       http.StatusNotFound,
	KindConflict:       http.StatusConflict,
	KindRateLimit:      http.StatusTooManyRequests,
	KindInternal:       http.StatusInternalServerError,
	KindBadGateway:     http.StatusBadGateway,
	KindUnavailable:    http.StatusServiceUnavailable,
	KindGatewayTimeout: http.StatusGatewayTimeout,
	KindCircuitOpen:    http.StatusServiceUnavailable,
	KindPoolExhausted:  http.StatusServiceUnavailable,
	KindTestFailed:     http.StatusUnprocessableEntity,
	KindDiscovery:      http.StatusBadGateway,
	KindCrypto:         http.StatusInternalServerError,
}

// HTTPStatus returns the status code for a kind. Unknown kinds map to 500.
func (k Kind) HTTPStatus() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Operational reports whether errors of this kind are expected client-visible
// conditions (logged at warn) rather than defects (logged at error).
func (k Kind) Operational() bool {
	switch k {
	case KindInternal, KindCrypto:
		return false
	}
	return true
}

// Error is a kinded error carried across service boundaries until the HTTP
// layer serializes it into the response envelope.
type Error struct {
	Kind    Kind
	Message string
	Details any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// WithDetails attaches structured data surfaced in the error envelope.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// New creates a kinded error with a client-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kinded error preserving an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

func Validation(message string) *Error     { return New(KindValidation, message) }
func Authentication(message string) *Error { return New(KindAuthentication, message) }
func Authorization(message string) *Error  { return New(KindAuthorization, message) }
func NotFound(message string) *Error       { return New(KindNotFound, message) }
func Conflict(message string) *Error       { return New(KindConflict, message) }
func RateLimited(message string) *Error    { return New(KindRateLimit, message) }
func Internal(err error) *Error            { return Wrap(KindInternal, "unexpected error", err) }
func Unavailable(message string) *Error    { return New(KindUnavailable, message) }

// KindOf extracts the kind from err, unwrapping as needed. Sentinels map to
// their natural kinds; anything unrecognized is internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrConnectionLimit):
		return KindValidation
	case errors.Is(err, ErrShutdown):
		return KindUnavailable
	case errors.Is(err, ErrInvalidRole):
		return KindValidation
	}
	return KindInternal
}

// DetailsOf extracts the structured details from err, or nil.
func DetailsOf(err error) any {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
