package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/nkorolev/credd/internal/handlers/render"
)

// RateLimitMiddleware throttles requests per client IP
// Applied on the credential endpoints to slow down guessing
func RateLimitMiddleware(requestLimit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
		}),
	)
}
