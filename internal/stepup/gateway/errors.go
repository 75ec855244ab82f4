package gateway

import (
	"fmt"
	"net/http"
)

// Service error codes carried on the wire.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidCode        = "invalid_code"
	CodeExpiredChallenge   = "expired_challenge"
	CodeRateLimited        = "rate_limited"
	CodeTooManyAttempts    = "too_many_attempts"
	CodeInvalidToken       = "invalid_token"
	CodeStepUpRequired     = "step_up_required"
	CodeServerError        = "server_error"
	CodeStaleStatus        = "stale_status"
)

// Error is a typed service error. Implementations wrap every non-2xx
// response into one of these so callers can match with errors.Is against the
// predefined values below.
type Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches by error code, so a wire error compares equal to the predefined
// value with the same code regardless of description.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrInvalidCredential covers both unknown users and wrong passwords;
	// the service never says which.
	ErrInvalidCredential = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        CodeInvalidCredentials,
		Description: "invalid username or password",
	}

	// ErrInvalidCode is the service rejecting a well-formed code.
	ErrInvalidCode = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        CodeInvalidCode,
		Description: "code incorrect",
	}

	// ErrExpiredChallenge reports a step-up token past its window.
	ErrExpiredChallenge = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        CodeExpiredChallenge,
		Description: "step-up challenge expired",
	}

	// ErrRateLimited is surfaced verbatim; retry is a user action.
	ErrRateLimited = &Error{
		StatusCode:  http.StatusTooManyRequests,
		Code:        CodeRateLimited,
		Description: "too many requests",
	}

	// ErrTooManyAttempts reports an exhausted step-up session.
	ErrTooManyAttempts = &Error{
		StatusCode:  http.StatusTooManyRequests,
		Code:        CodeTooManyAttempts,
		Description: "too many failed attempts",
	}

	// ErrInvalidToken reports a missing, malformed or revoked bearer token.
	ErrInvalidToken = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        CodeInvalidToken,
		Description: "the access token is missing, invalid, expired or revoked",
	}

	// ErrStaleStatus reports a security-status response that arrived through
	// a cache. It is generated client-side; the response body is discarded.
	ErrStaleStatus = &Error{
		StatusCode:  http.StatusConflict,
		Code:        CodeStaleStatus,
		Description: "factor status response was served from a cache",
	}

	// ErrServer is any unclassified service failure.
	ErrServer = &Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        CodeServerError,
		Description: "internal server error",
	}
)
