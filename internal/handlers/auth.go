package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/handlers/render"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/metrics"
	"github.com/nkorolev/credd/internal/models"
)

// Auth service contract the handlers call
type AuthService interface {
	// Register user with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	// and apperrors.ErrWeakPassword if the password fails the policy
	Register(ctx context.Context, username string, password string) (models.User, models.TokenPair, error)

	// Login user with username and password
	// Every credential failure is apperrors.ErrInvalidCredentials
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Rotate the refresh token and return a new pair
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Terminate the session behind the refresh token
	Logout(ctx context.Context, refresh string) error

	// Terminate every session of the user
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// Replace the password, revoke all sessions on success
	ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword string, newPassword string) error

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type AuthHandler struct {
	auth    AuthService
	metrics metrics.Recorder
	logger  logger.Logger
}

func NewAuth(auth AuthService, m metrics.Recorder, l logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, metrics: m, logger: l}
}

// Handler serves the public credential endpoints
func (h *AuthHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.register)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /refresh", h.refresh)
	mux.HandleFunc("POST /logout", h.logout)

	return mux
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Login    string `json:"login" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required"`
	}
	type RegisterSuccessResponse struct {
		ID       uuid.UUID `json:"id"`
		Username string    `json:"username"`
		tokenPairResponse
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	user, pair, err := h.auth.Register(r.Context(), data.Login, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		case errors.Is(err, apperrors.ErrWeakPassword):
			render.ServiceError(w, "Password is too weak", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Register failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordRegistration()
	h.auth.SetTokenPairToResponse(w, pair)
	render.JSONWithStatus(w, RegisterSuccessResponse{
		ID:       user.ID,
		Username: user.Username,
		tokenPairResponse: tokenPairResponse{
			AccessToken:  pair.Access.Value,
			RefreshToken: pair.Refresh.Value,
		},
	}, http.StatusCreated)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.auth.Login(r.Context(), data.Login, data.Password)
	if err != nil {
		h.metrics.RecordLogin(false)
		switch {
		// Same response for unknown user and wrong password
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Login failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordLogin(true)
	h.auth.SetTokenPairToResponse(w, pair)
	render.JSON(w, tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	refresh, err := h.refreshFromRequest(r)
	if err != nil {
		h.metrics.RecordRefresh(false)
		render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
		return
	}

	pair, err := h.auth.RefreshPair(r.Context(), refresh)
	if err != nil {
		h.metrics.RecordRefresh(false)
		switch {
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, apperrors.ErrSessionNotFound),
			errors.Is(err, apperrors.ErrSessionRevoked),
			errors.Is(err, apperrors.ErrSessionExpired),
			errors.Is(err, apperrors.ErrUserDisabled):
			// One generic 401 for every terminal session state
			h.logger.Debug("Refresh rejected", "error", err.Error())
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			h.logger.Error("Refresh failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordRefresh(true)
	h.auth.SetTokenPairToResponse(w, pair)
	render.JSON(w, tokenPairResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	refresh, err := h.refreshFromRequest(r)
	if err != nil {
		// Nothing to terminate
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err = h.auth.Logout(r.Context(), refresh)
	switch {
	case err == nil:
		h.metrics.RecordRevocations(1)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		// Nothing was revoked, nothing to count
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Logout failed", "error", err.Error())
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// refreshFromRequest reads the refresh token from the json body,
// falling back to the cookie the service sets itself
func (h *AuthHandler) refreshFromRequest(r *http.Request) (string, error) {
	type RefreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	var body RefreshRequest
	if r.Body != nil {
		// Body is optional here, decode errors just mean "use the cookie"
		_ = decodeLax(r, &body)
	}
	if body.RefreshToken != "" {
		return body.RefreshToken, nil
	}

	return h.auth.GetRefreshString(r)
}
