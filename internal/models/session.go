package models

import (
	"time"

	"github.com/google/uuid"
)

// Session tracks one refresh token lineage entry
// Only the token hash is stored, the plaintext exists on the client side only
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil while the session is active
}

// Expired reports whether the session lifetime has passed at the given moment
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
