package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error class surfaced to clients.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindNotFound        Kind = "NOT_FOUND"
	KindGone            Kind = "GONE"
	KindSessionRequired Kind = "SESSION_REQUIRED"
	KindRateLimited     Kind = "RATE_LIMITED"
	KindTooManyAttempts Kind = "TOO_MANY_ATTEMPTS"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindInternal        Kind = "INTERNAL"
)

// SessionFailureReason narrows a SESSION_REQUIRED error so the transport
// layer knows whether the client cookie is worth keeping.
type SessionFailureReason string

const (
	SessionNotFound        SessionFailureReason = "NOT_FOUND"
	SessionExpired         SessionFailureReason = "EXPIRED"
	SessionRevoked         SessionFailureReason = "REVOKED"
	SessionTrackerMismatch SessionFailureReason = "TRACKER_MISMATCH"
)

// Error carries enough structured metadata that handlers can render any
// domain failure without per-endpoint special cases.
type Error struct {
	Kind              Kind
	Status            int
	Message           string
	Reason            string
	RetryAfterSeconds int
	ClearCookie       bool
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: message}
}

// Gone reports an application that can no longer be resumed. The reason is a
// machine-readable qualifier such as ONBOARDING_EXPIRED.
func Gone(reason, message string) *Error {
	return &Error{Kind: KindGone, Status: http.StatusGone, Message: message, Reason: reason}
}

// SessionRequired always instructs the client to drop its cookie; a token
// that failed validation once will never validate again.
func SessionRequired(reason SessionFailureReason) *Error {
	return &Error{
		Kind:        KindSessionRequired,
		Status:      http.StatusUnauthorized,
		Message:     "a valid onboarding session is required",
		Reason:      string(reason),
		ClearCookie: true,
	}
}

func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Status:            http.StatusTooManyRequests,
		Message:           "please wait before requesting another code",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func TooManyAttempts(message string) *Error {
	return &Error{Kind: KindTooManyAttempts, Status: http.StatusTooManyRequests, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

func Internal(err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "an unexpected error occurred",
		Err:     err,
	}
}

// From returns err as an *Error, wrapping unknown errors as Internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
