package authn

import (
	"errors"
	"net/http"
)

// ErrUnauthorized is the fallback cause when a verifier rejects credentials
// without saying why.
var ErrUnauthorized = errors.New("unauthorized")

const (
	// ReasonInvalidCredentials covers unknown accounts and wrong secrets alike.
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonMissingCredentials = "missing_credentials"
	ReasonUserDisabled       = "user_disabled"
	ReasonRateLimited        = "rate_limited"
	ReasonTokenInvalid       = "token_invalid"
	ReasonTokenExpired       = "token_expired"
	// ReasonUnavailable means the identity backend could not be reached.
	ReasonUnavailable = "unavailable"
)

var knownReasons = map[string]int{
	ReasonInvalidCredentials: http.StatusUnauthorized,
	ReasonMissingCredentials: http.StatusUnauthorized,
	ReasonUserDisabled:       http.StatusForbidden,
	ReasonRateLimited:        http.StatusTooManyRequests,
	ReasonTokenInvalid:       http.StatusUnauthorized,
	ReasonTokenExpired:       http.StatusUnauthorized,
	ReasonUnavailable:        http.StatusServiceUnavailable,
}

// AuthError contains reason codes for failed authentication attempts.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError constructs an AuthError with the provided reason.
func NewAuthError(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

// ReasonOf extracts the reason code from err. Errors that are not AuthErrors
// are reported as unavailable.
func ReasonOf(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Reason != "" {
		return authErr.Reason
	}
	if errors.Is(err, ErrUnauthorized) {
		return ReasonInvalidCredentials
	}
	return ReasonUnavailable
}

// KnownReason reports whether reason is one of the Reason constants.
func KnownReason(reason string) bool {
	_, ok := knownReasons[reason]
	return ok
}

// StatusFor maps a reason code to the HTTP status of a failed sign-in.
func StatusFor(reason string) int {
	if status, ok := knownReasons[reason]; ok {
		return status
	}
	return http.StatusUnauthorized
}
