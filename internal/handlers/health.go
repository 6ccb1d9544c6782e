package handlers

import (
	"context"
	"net/http"

	"github.com/nkorolev/credd/internal/handlers/render"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewHealth reports liveness and store connectivity
func NewHealth(store pinger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			render.JSONWithStatus(w, response{Status: "store unavailable"}, http.StatusServiceUnavailable)
			return
		}
		render.JSON(w, response{Status: "ok"})
	})
}
