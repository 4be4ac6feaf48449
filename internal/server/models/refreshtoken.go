package models

import "time"

// TokenState is derived from a RefreshToken row at read time.
type TokenState int

const (
	StateActive TokenState = iota
	// StateRotated: revoked because a successor was issued.
	StateRotated
	// StateRevoked: revoked by explicit logout.
	StateRevoked
	// StateExpired is never stored; it is an active row past ExpiresAt.
	StateExpired
)

func (s TokenState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RefreshToken is one issued refresh credential. Only the SHA-256 of the
// raw value is kept.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time

	RevokedAt *time.Time
	// ReplacedByID is set only when the token was revoked by rotation.
	ReplacedByID *string
	// ReplacedByHash is the successor's hash, kept for chain tracing.
	ReplacedByHash *string

	UserAgent string
	IP        string
}

// State reports the token state at now.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.RevokedAt != nil && t.ReplacedByID != nil:
		return StateRotated
	case t.RevokedAt != nil:
		return StateRevoked
	case !now.Before(t.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}
