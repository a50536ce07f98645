package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNoToken means the user never authorized, or revoked authorization.
	// Remediation is starting the authorization flow.
	ErrNoToken = errors.New("no token stored: authorize first")

	// ErrInvalidState means a callback carried an unknown, expired or
	// already-consumed state value. The callback is rejected outright.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrNotConfigured means the app registration has no credentials yet.
	ErrNotConfigured = errors.New("oauth app not configured: set client id and secret")
)

// TokenExchangeError wraps an upstream failure of the authorization-code
// exchange (network error or rejected code).
type TokenExchangeError struct {
	Err error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// RefreshError wraps an upstream failure of a refresh grant. The stored
// token is left untouched when this is returned; remediation is a full
// re-authorization.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
