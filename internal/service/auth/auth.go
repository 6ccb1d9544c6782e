package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/models"
	"github.com/nkorolev/credd/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"

	// Deadline for a single store round trip
	// A store that doesn't answer in time fails the credential check closed
	defaultStoreTimeout = 3 * time.Second
)

type Config struct {
	// Hasher to use during user registration or login process
	// Bcrypt hasher is used when not set
	Hasher PasswordHasher

	// Password strength requirements checked on register and password change
	Policy PasswordPolicy

	// Where the access token travels in requests and responses
	AccessHeaderName string
	AccessAuthScheme string

	// Cookie carrying the refresh token
	RefreshCookieName string

	// Deadline for store operations
	StoreTimeout time.Duration
}

// AuthService composes hashing, tokens and sessions into the operations
// request handlers call
type AuthService struct {
	tokens   *TokenManager
	sessions *SessionManager
	store    repository.Storage
	users    repository.UserRepo

	hasher PasswordHasher
	policy PasswordPolicy

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	storeTimeout      time.Duration

	// Digest compared against when the user is unknown, keeps login timing flat
	dummyDigest string
}

func NewService(cfg Config, tokens *TokenManager, sessions *SessionManager, store repository.Storage) (*AuthService, error) {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	var users repository.UserRepo
	if store != nil {
		users = store.User()
	}

	setDefaultString := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefaultString(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefaultString(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefaultString(&cfg.RefreshCookieName, defaultRefreshCookieName)

	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("error while preparing dummy digest. Err: %w", err)
	}

	return &AuthService{
		tokens:            tokens,
		sessions:          sessions,
		store:             store,
		users:             users,
		hasher:            hasher,
		policy:            cfg.Policy,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		storeTimeout:      cfg.StoreTimeout,
		dummyDigest:       dummy,
	}, nil
}

// Register creates the user and logs it in
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.User, models.TokenPair, error) {
	var user models.User
	var pair models.TokenPair

	if err := s.policy.Validate(password); err != nil {
		return user, pair, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, pair, fmt.Errorf("can't use this as password, error=%w", err)
	}

	tctx, cancel := s.storeCtx(ctx)
	user, err = s.users.CreateUser(tctx, username, hash)
	cancel()
	if err != nil {
		return user, pair, storeErr(err)
	}

	pair, err = s.issuePair(ctx, user.ID)
	return user, pair, err
}

// Login verifies the credentials and issues a token pair
// Unknown user, disabled user and wrong password all fail with the same
// generic error, and a hash compare burns on every path so the branches
// take comparable time
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	tctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetUserByUsername(tctx, username)
	cancel()

	digest := s.dummyDigest
	known := false
	switch {
	case err == nil:
		known = user.IsActive()
		if known {
			digest = user.HashedPassword
		}
	case errors.Is(err, apperrors.ErrUserNotFound):
		// compare against the dummy digest below
	default:
		return pair, storeErr(err)
	}

	if cmpErr := s.hasher.Compare(digest, password); cmpErr != nil || !known {
		return pair, apperrors.ErrInvalidCredentials
	}

	return s.issuePair(ctx, user.ID)
}

// issuePair signs an access token and starts a session for the user
func (s *AuthService) issuePair(ctx context.Context, userID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := s.tokens.Issue(userID)
	if err != nil {
		return pair, err
	}

	tctx, cancel := s.storeCtx(ctx)
	defer cancel()
	session, refresh, err := s.sessions.Create(tctx, userID)
	if err != nil {
		return pair, storeErr(err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: session.ExpiresAt},
	}, nil
}

// RefreshPair rotates the refresh token and issues a new pair
// The old refresh token is never accepted again after this call
func (s *AuthService) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair

	tctx, cancel := s.storeCtx(ctx)
	session, newRefresh, err := s.sessions.Rotate(tctx, refresh)
	cancel()
	if err != nil {
		return pair, storeErr(err)
	}

	tctx, cancel = s.storeCtx(ctx)
	user, err := s.users.GetUserByID(tctx, session.UserID)
	cancel()
	if err != nil {
		return pair, storeErr(err)
	}
	if !user.IsActive() {
		return pair, fmt.Errorf("can't refresh: %w", apperrors.ErrUserDisabled)
	}

	access, err := s.tokens.Issue(user.ID)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: newRefresh, ExpiresAt: session.ExpiresAt},
	}, nil
}

// Logout terminates the session behind the refresh token
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	tctx, cancel := s.storeCtx(ctx)
	defer cancel()

	return storeErr(s.sessions.Revoke(tctx, refresh))
}

// LogoutAll terminates every active session of the user, for
// logout-everywhere and credential compromise response
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	tctx, cancel := s.storeCtx(ctx)
	defer cancel()

	count, err := s.sessions.RevokeAll(tctx, userID)
	return count, storeErr(err)
}

// ChangePassword replaces the password hash and revokes all user sessions
// Hash update and revocation commit together, a failed revoke must not
// leave the new password live with old sessions refreshable
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword string, newPassword string) error {
	tctx, cancel := s.storeCtx(ctx)
	user, err := s.users.GetUserByID(tctx, userID)
	cancel()
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return apperrors.ErrInvalidCredentials
	case err != nil:
		return storeErr(err)
	}

	if err := s.hasher.Compare(user.HashedPassword, oldPassword); err != nil {
		return apperrors.ErrInvalidCredentials
	}

	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	tctx, cancel = s.storeCtx(ctx)
	defer cancel()
	err = s.store.InTx(tctx, func(st repository.Storage) error {
		if _, err := st.User().UpdatePasswordHash(tctx, userID, hash); err != nil {
			return err
		}
		_, err := st.Session().RevokeAllForUser(tctx, userID)
		return err
	})
	return storeErr(err)
}

// Auth authenticates the request by its access token
func (s *AuthService) Auth(ctx context.Context, r *http.Request) (models.User, error) {
	var user models.User

	scheme, access, found := strings.Cut(r.Header.Get(s.accessHeaderName), " ")
	if !found || scheme != s.accessAuthScheme {
		return user, fmt.Errorf("%w: unexpected auth header", apperrors.ErrInvalidToken)
	}

	userID, err := s.tokens.Parse(access)
	if err != nil {
		return user, err
	}

	tctx, cancel := s.storeCtx(ctx)
	user, err = s.users.GetUserByID(tctx, userID)
	cancel()
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, fmt.Errorf("%w: unknown user", apperrors.ErrInvalidToken)
	case err != nil:
		return user, storeErr(err)
	case !user.IsActive():
		return user, fmt.Errorf("can't auth: %w", apperrors.ErrUserDisabled)
	}

	return user, nil
}

// Set auth tokens (access, refresh) to response
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	http.SetCookie(w, s.refreshCookie(pair.Refresh))
}

// Set auth tokens to outgoing request, handy in tests
func (s *AuthService) SetTokenPairToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	r.AddCookie(s.refreshCookie(pair.Refresh))
}

// Get refresh token from request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", fmt.Errorf("refresh cookie is not set: %w", apperrors.ErrSessionNotFound)
	}
	return cookie.Value, nil
}

func (s *AuthService) refreshCookie(refresh models.IssuedToken) *http.Cookie {
	return &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    refresh.Value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(time.Until(refresh.ExpiresAt).Seconds()),
	}
}

func (s *AuthService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeErr maps an exceeded store deadline to ErrStoreUnavailable
// so it can never pass for a credential check result
func storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return err
}
