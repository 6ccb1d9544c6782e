package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkorolev/credd/internal/apperrors"
	"github.com/nkorolev/credd/internal/handlers/render"
	"github.com/nkorolev/credd/internal/handlers/userctx"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/metrics"
)

// UserHandler serves operations on the authenticated user
// The auth middleware must run before any of these
type UserHandler struct {
	auth    AuthService
	metrics metrics.Recorder
	logger  logger.Logger
}

func NewUser(auth AuthService, m metrics.Recorder, l logger.Logger) *UserHandler {
	return &UserHandler{auth: auth, metrics: m, logger: l}
}

func (h *UserHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", h.me)
	mux.HandleFunc("POST /password", h.changePassword)
	mux.HandleFunc("POST /logout_all", h.logoutAll)

	return mux
}

func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Username  string    `json:"username"`
		CreatedAt time.Time `json:"created_at"`
	}

	user, _ := userctx.FromContext(r.Context())
	render.JSON(w, response{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
}

func (h *UserHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	type ChangePasswordRequest struct {
		OldPassword string `json:"old_password" validate:"required"`
		NewPassword string `json:"new_password" validate:"required"`
	}

	data, err := render.BindAndValidate[ChangePasswordRequest](w, r)
	if err != nil {
		return
	}

	user, _ := userctx.FromContext(r.Context())

	err = h.auth.ChangePassword(r.Context(), user.ID, data.OldPassword, data.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrWeakPassword):
			render.ServiceError(w, "Password is too weak", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Password change failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	user, _ := userctx.FromContext(r.Context())

	count, err := h.auth.LogoutAll(r.Context(), user.ID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrStoreUnavailable):
			render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("Logout everywhere failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.metrics.RecordRevocations(count)
	render.JSON(w, response{Revoked: count})
}
