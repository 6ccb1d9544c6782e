package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkorolev/credd/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Replace the stored password hash
	// If user not found must return apperrors.ErrUserNotFound
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hashedPassword string) (models.User, error)
}

// Session repository interface
type SessionRepo interface {
	// Save session in repository
	Create(ctx context.Context, session models.Session) (models.Session, error)

	// Return the session no matter its state
	// If not found must return apperrors.ErrSessionNotFound
	GetByTokenHash(ctx context.Context, tokenHash string) (models.Session, error)

	// Claim the session: set revoked_at once and return the session
	// Exactly one concurrent caller per session wins the claim,
	// the rest must get apperrors.ErrSessionRevoked.
	// Must not overwrite an existing 'revoked_at'
	Revoke(ctx context.Context, sessionID uuid.UUID) (models.Session, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) (models.Session, error)

	// Revoke every active session of the user, return how many were revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete sessions that expired before the given moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Storage aggregates the repositories over one db handle
type Storage interface {
	User() UserRepo
	Session() SessionRepo

	// Run fn within a db transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
