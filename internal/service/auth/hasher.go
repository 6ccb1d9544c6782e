package auth

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nkorolev/credd/internal/apperrors"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	// A malformed hashedPassword is a mismatch, never a panic
	Compare(hashedPassword string, password string) error
}

// Bcrypt password hasher
// Passwords are pre-hashed with sha256 so bcrypt's 72 byte input limit never truncates them.
// The per-call salt lives inside the bcrypt output itself
type BcryptHasher struct {
	// Cost of the bcrypt algorithm, bcrypt.DefaultCost when zero
	Cost int
}

var DefaultHasher = BcryptHasher{}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))

	// bcrypt reports a broken digest the same way as a mismatch here,
	// both collapse into one generic error
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	}

	return nil
}
