package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Store-level sentinels.
var (
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: already exists")
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountDisabled    Code = "ACCOUNT_DISABLED"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeAuthRequired       Code = "AUTHENTICATION_REQUIRED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeCSRF               Code = "CSRF_TOKEN_INVALID"
	CodeSystem             Code = "SYSTEM_ERROR"
)

// Error is an expected authentication or authorization outcome. Anything else
// returned by this package is an internal failure.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// AsError unwraps err into an *Error.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error carrying code.
func HasCode(err error, code Code) bool {
	ae, ok := AsError(err)
	return ok && ae.Code == code
}

func InvalidCredentials() *Error {
	return &Error{Code: CodeInvalidCredentials, Status: http.StatusUnauthorized, Message: "Invalid email or password"}
}

func AccountDisabled() *Error {
	return &Error{Code: CodeAccountDisabled, Status: http.StatusUnauthorized, Message: "Account is disabled"}
}

func TokenExpired() *Error {
	return &Error{Code: CodeTokenExpired, Status: http.StatusUnauthorized, Message: "Token is invalid or expired"}
}

func UserNotFound() *Error {
	return &Error{Code: CodeUserNotFound, Status: http.StatusUnauthorized, Message: "User not found or inactive"}
}

// AccountLocked reports a lockout with the whole minutes left.
func AccountLocked(minutes int) *Error {
	return &Error{
		Code:    CodeRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Message: fmt.Sprintf("Too many failed login attempts. Try again in %d minutes", minutes),
		Details: map[string]any{"retryAfterMinutes": minutes},
	}
}

// RateLimited reports a request-rate rejection with the seconds until reset.
func RateLimited(seconds int) *Error {
	return &Error{
		Code:    CodeRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
		Details: map[string]any{"retryAfter": seconds},
	}
}

func AuthenticationRequired() *Error {
	return &Error{
		Code:    CodeAuthRequired,
		Status:  http.StatusUnauthorized,
		Message: "Authentication required",
		Details: map[string]any{"redirect": "/login"},
	}
}

func PermissionDenied(msg string) *Error {
	if msg == "" {
		msg = "Insufficient permissions"
	}
	return &Error{Code: CodePermissionDenied, Status: http.StatusForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: msg}
}

func Validation(msg string, details map[string]any) *Error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: msg, Details: details}
}

func CSRFInvalid() *Error {
	return &Error{Code: CodeCSRF, Status: http.StatusForbidden, Message: "CSRF token missing or invalid"}
}
