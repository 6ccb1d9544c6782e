package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserDisabled      = errors.New("user is disabled")

	// Generic credential failure
	// Returned for unknown user and wrong password alike, callers must not be able to tell which
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password is too weak")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session is revoked")
	ErrSessionExpired  = errors.New("session is expired")

	ErrTokenExpired = errors.New("access token is expired")
	ErrInvalidToken = errors.New("access token is invalid")

	// Store didn't answer in time
	// Must never be treated as the result of a credential check
	ErrStoreUnavailable = errors.New("store unavailable")
)
