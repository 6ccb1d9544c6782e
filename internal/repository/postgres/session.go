package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/models"
)

type SessionRepo struct {
	DB DBTX
}

const createSession = `-- name: CreateSession
INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_id, token_hash, created_at, expires_at, revoked_at
`

func (r *SessionRepo) Create(ctx context.Context, session models.Session) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, createSession,
		session.ID, session.UserID, session.TokenHash,
		session.CreatedAt, session.ExpiresAt, session.RevokedAt,
	)
	saved, err := pgx.CollectOneRow(rows, rowToSession)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// token_hash collision, the caller should generate a new token
			return saved, fmt.Errorf("session token hash is taken: %w", err)
		}

		return saved, fmt.Errorf("db error: %w", err)
	}

	return saved, nil
}

const getSessionByTokenHash = `-- name: GetSessionByTokenHash
SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
FROM sessions
WHERE token_hash = $1
`

// Get session by its token hash
// It should return result even if the session is revoked or expired already
func (r *SessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, getSessionByTokenHash, tokenHash)
	return collectSession(rows)
}

const getSessionByID = `-- name: GetSessionByID
SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
FROM sessions
WHERE id = $1
`

const revokeSession = `-- name: RevokeSession if it not revoked yet
UPDATE sessions
SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL
RETURNING id, user_id, token_hash, created_at, expires_at, revoked_at
`

// Revoke session by id
// Claims the session atomically: must not rewrite 'revoked_at' of already revoked sessions,
// a second caller gets apperrors.ErrSessionRevoked
func (r *SessionRepo) Revoke(ctx context.Context, sessionID uuid.UUID) (models.Session, error) {
	return r.claim(ctx, revokeSession, getSessionByID, sessionID)
}

const revokeSessionByTokenHash = `-- name: RevokeSessionByTokenHash if it not revoked yet
UPDATE sessions
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL
RETURNING id, user_id, token_hash, created_at, expires_at, revoked_at
`

// Same claim semantics as Revoke but looked up by the token hash
func (r *SessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	return r.claim(ctx, revokeSessionByTokenHash, getSessionByTokenHash, tokenHash)
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE sessions
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredSessions = `-- name: DeleteExpiredSessions
DELETE FROM sessions
WHERE expires_at < $1
`

func (r *SessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredSessions, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// claim revokes the session with updateSQL, which must only touch rows
// whose 'revoked_at' is still NULL. The row update decides the winner, so
// of N concurrent callers exactly one gets it back.
// No row means the claim was lost or the session never existed,
// lookupSQL tells which
func (r *SessionRepo) claim(ctx context.Context, updateSQL string, lookupSQL string, key any) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, updateSQL, key, time.Now())
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		rows, _ := r.DB.Query(ctx, lookupSQL, key)
		session, err := collectSession(rows)
		if err != nil {
			return session, err
		}
		return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionRevoked)
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

func collectSession(rows pgx.Rows) (models.Session, error) {
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, fmt.Errorf("repo error: %w", apperrors.ErrSessionNotFound)
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	return s, err
}
