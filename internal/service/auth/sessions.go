package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/models"
	"github.com/nkorolev/credd/internal/repository"
)

const (
	defaultRefreshTokenTTL = 30 * 24 * time.Hour

	// Refresh token entropy in bytes
	refreshTokenBytesLen = 32
)

// SessionManager owns refresh token lifecycles
// Only sha256 hashes of refresh tokens are persisted, the plaintext is
// handed to the user once and never stored
type SessionManager struct {
	refreshTTL time.Duration
	sessions   repository.SessionRepo
}

func NewSessionManager(refreshTTL time.Duration, sessions repository.SessionRepo) (*SessionManager, error) {
	if sessions == nil {
		return nil, errors.New("session repo must not be nil")
	}

	if refreshTTL == 0 {
		refreshTTL = defaultRefreshTokenTTL
	}

	return &SessionManager{
		refreshTTL: refreshTTL,
		sessions:   sessions,
	}, nil
}

func (m *SessionManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Create starts a new session for the user and returns the refresh token plaintext
func (m *SessionManager) Create(ctx context.Context, userID uuid.UUID) (models.Session, string, error) {
	b := make([]byte, refreshTokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return models.Session{}, "", fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	refresh := hex.EncodeToString(b)

	now := time.Now().Truncate(time.Second)
	session, err := m.sessions.Create(ctx, models.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: HashRefreshToken(refresh),
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
		RevokedAt: nil,
	})
	if err != nil {
		return session, "", fmt.Errorf("error while saving session. Err: %w", err)
	}

	return session, refresh, nil
}

// Rotate claims the session behind the refresh token and starts a fresh one
// The old session is terminally revoked first, so of N concurrent calls with
// one token exactly one gets the new session. Expired sessions fail closed
// even for the caller that won the claim
func (m *SessionManager) Rotate(ctx context.Context, refresh string) (models.Session, string, error) {
	claimed, err := m.sessions.RevokeByTokenHash(ctx, HashRefreshToken(refresh))
	if err != nil {
		return models.Session{}, "", fmt.Errorf("error while claiming session. Err: %w", err)
	}

	if claimed.Expired(time.Now()) {
		return models.Session{}, "", fmt.Errorf("error while claiming session. Err: %w", apperrors.ErrSessionExpired)
	}

	return m.Create(ctx, claimed.UserID)
}

// Revoke terminates the session behind the refresh token
// Revoking an already terminated session is not an error
func (m *SessionManager) Revoke(ctx context.Context, refresh string) error {
	_, err := m.sessions.RevokeByTokenHash(ctx, HashRefreshToken(refresh))

	switch {
	case err == nil, errors.Is(err, apperrors.ErrSessionRevoked):
		return nil
	default:
		return fmt.Errorf("error while revoking session. Err: %w", err)
	}
}

// RevokeAll terminates every active session of the user
// Used for logout-everywhere and after a password change
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := m.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error while revoking user sessions. Err: %w", err)
	}
	return count, nil
}

// PurgeExpired deletes sessions whose lifetime has passed
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpired(ctx, time.Now())
}

// RunPurge deletes expired sessions on the given interval until ctx is cancelled
func (m *SessionManager) RunPurge(ctx context.Context, every time.Duration, l logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Debug("Session purge stopped")
			return
		case <-ticker.C:
			count, err := m.PurgeExpired(ctx)
			if err != nil {
				l.Error("Failed to purge expired sessions", "error", err.Error())
				continue
			}
			if count > 0 {
				l.Info("Purged expired sessions", "count", count)
			}
		}
	}
}

// HashRefreshToken maps refresh token plaintext to its stored form
func HashRefreshToken(refresh string) string {
	sum := sha256.Sum256([]byte(refresh))
	return hex.EncodeToString(sum[:])
}
