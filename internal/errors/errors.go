// Package errors provides the authentication error taxonomy used across the
// session bridge and its mapping to HTTP statuses and public messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents specific error types
type ErrorCode string

const (
	// Authentication errors
	ErrCodeMissingToken   ErrorCode = "MISSING_TOKEN"
	ErrCodeInvalidToken   ErrorCode = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeRefreshFailed  ErrorCode = "REFRESH_FAILED"
	ErrCodeBypassDisabled ErrorCode = "BYPASS_DISABLED"

	// Authorization errors
	ErrCodeRoleMismatch ErrorCode = "ROLE_MISMATCH"

	// Provider and configuration errors
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrCodeConfigInvalid       ErrorCode = "CONFIG_INVALID"

	// Request errors
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"
)

// Public messages. Credential failures share one message so that callers
// cannot tell a wrong credential from an absent or expired one.
const (
	MsgInvalidToken        = "Invalid or expired token"
	MsgNoSession           = "No active session"
	MsgRefreshFailed       = "Failed to refresh session"
	MsgRoleMismatch        = "Insufficient permissions"
	MsgProviderUnavailable = "Authentication service unavailable"
	MsgRateLimited         = "Too many requests"
	MsgInternal            = "Internal server error"
	MsgNotFound            = "Not found"
)

// AuthError represents a structured error with context
type AuthError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	Internal   error     `json:"-"` // never exposed to clients
}

// Error implements the error interface
func (e *AuthError) Error() string {
	base := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		base = fmt.Sprintf("%s (%s)", base, e.Details)
	}
	if e.Internal != nil {
		base = fmt.Sprintf("%s: %v", base, e.Internal)
	}
	return base
}

// Unwrap returns the internal error for error wrapping
func (e *AuthError) Unwrap() error {
	return e.Internal
}

// Is matches on error code so sentinel comparisons work with errors.Is.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsAuthenticationError indicates if this is an authentication-related error
func (e *AuthError) IsAuthenticationError() bool {
	return e.Code == ErrCodeMissingToken ||
		e.Code == ErrCodeInvalidToken ||
		e.Code == ErrCodeRefreshFailed
}

// IsAuthorizationError indicates if this is an authorization-related error
func (e *AuthError) IsAuthorizationError() bool {
	return e.Code == ErrCodeRoleMismatch
}

// Sentinels for errors.Is comparisons.
var (
	ErrMissingToken        = &AuthError{Code: ErrCodeMissingToken}
	ErrInvalidToken        = &AuthError{Code: ErrCodeInvalidToken}
	ErrRefreshFailed       = &AuthError{Code: ErrCodeRefreshFailed}
	ErrBypassDisabled      = &AuthError{Code: ErrCodeBypassDisabled}
	ErrRoleMismatch        = &AuthError{Code: ErrCodeRoleMismatch}
	ErrProviderUnavailable = &AuthError{Code: ErrCodeProviderUnavailable}
	ErrRateLimited         = &AuthError{Code: ErrCodeRateLimited}
	ErrConfigInvalid       = &AuthError{Code: ErrCodeConfigInvalid}
	ErrBadRequest          = &AuthError{Code: ErrCodeBadRequest}
)

// NewMissingToken reports a request without any credential.
func NewMissingToken() *AuthError {
	return &AuthError{Code: ErrCodeMissingToken, Message: MsgNoSession, HTTPStatus: http.StatusUnauthorized}
}

// NewInvalidToken reports a credential the provider or local checks rejected.
func NewInvalidToken(internal error) *AuthError {
	return &AuthError{Code: ErrCodeInvalidToken, Message: MsgInvalidToken, HTTPStatus: http.StatusUnauthorized, Internal: internal}
}

// NewRefreshFailed reports any refresh failure with one uniform message.
func NewRefreshFailed(internal error) *AuthError {
	return &AuthError{Code: ErrCodeRefreshFailed, Message: MsgRefreshFailed, HTTPStatus: http.StatusUnauthorized, Internal: internal}
}

// NewRoleMismatch reports an authenticated user hitting another role's area.
func NewRoleMismatch(have, want string) *AuthError {
	return &AuthError{
		Code:       ErrCodeRoleMismatch,
		Message:    MsgRoleMismatch,
		Details:    fmt.Sprintf("role %q cannot access %q area", have, want),
		HTTPStatus: http.StatusForbidden,
	}
}

// NewProviderUnavailable reports transport or server-side provider failures.
func NewProviderUnavailable(internal error) *AuthError {
	return &AuthError{Code: ErrCodeProviderUnavailable, Message: MsgProviderUnavailable, HTTPStatus: http.StatusInternalServerError, Internal: internal}
}

// NewRateLimited reports the local provider call budget being exhausted.
func NewRateLimited() *AuthError {
	return &AuthError{Code: ErrCodeRateLimited, Message: MsgRateLimited, HTTPStatus: http.StatusTooManyRequests}
}

// NewBypassDisabled reports use of the bypass path while it is not enabled.
// Surfaces as 404 so the endpoint's existence is not advertised.
func NewBypassDisabled() *AuthError {
	return &AuthError{Code: ErrCodeBypassDisabled, Message: MsgNotFound, HTTPStatus: http.StatusNotFound}
}

// NewConfigError reports invalid configuration.
func NewConfigError(message string, internal error) *AuthError {
	return &AuthError{Code: ErrCodeConfigInvalid, Message: message, HTTPStatus: http.StatusInternalServerError, Internal: internal}
}

// NewBadRequest reports a malformed client request.
func NewBadRequest(message string) *AuthError {
	return &AuthError{Code: ErrCodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// As extracts an *AuthError from an error chain.
func As(err error) (*AuthError, bool) {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// HTTPStatus extracts the HTTP status from err, defaulting to 500.
func HTTPStatus(err error) int {
	if authErr, ok := As(err); ok && authErr.HTTPStatus != 0 {
		return authErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to send to clients. Details and
// internal causes are never included.
func PublicMessage(err error) string {
	if authErr, ok := As(err); ok && authErr.Message != "" {
		if authErr.Code == ErrCodeConfigInvalid {
			return MsgInternal
		}
		return authErr.Message
	}
	return MsgInternal
}

// Is is re-exported so callers importing this package do not also need the
// standard errors package.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
