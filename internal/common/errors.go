// Package common defines shared constants and sentinel errors used across
// the credential subsystem. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")

	// Client rejections. These are safe to return to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrRateLimited        = errors.New("rate limited")

	// Configuration errors that must abort startup.
	ErrNoSigningKeys = errors.New("no signing keys configured")
)

// Stable machine-readable rejection codes.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeTokenRevoked       = "token_revoked"
	CodeRateLimited        = "rate_limited"
	CodeInvalidRequest     = "invalid_request"
	CodeInternal           = "internal_error"
)

// RetryAfterError is returned when a rate limit blocks an attempt.
// It wraps ErrRateLimited.
type RetryAfterError struct {
	Seconds int
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.Seconds)
}

func (e *RetryAfterError) Unwrap() error { return ErrRateLimited }

// Code maps err to its rejection code. Unknown errors map to CodeInternal.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrTokenRevoked):
		return CodeTokenRevoked
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	default:
		return CodeInternal
	}
}

// IsRejection reports whether err is a client rejection rather than a
// server-side failure.
func IsRejection(err error) bool {
	return Code(err) != CodeInternal
}
