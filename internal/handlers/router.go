package handlers

import (
	"net/http"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	Auth *AuthHandler
	User *UserHandler

	// Middleware authenticating requests by access token
	AuthMiddleware func(http.Handler) http.Handler

	// Middleware throttling the public credential endpoints
	RateLimitMiddleware func(http.Handler) http.Handler

	// Middleware applied to everything
	LoggerMiddleware func(http.Handler) http.Handler

	// Extra endpoints outside the api prefix
	Metrics http.Handler
	Health  http.Handler
}

func NewRouter(c RouterConfig) http.Handler {
	passthrough := func(h http.Handler) http.Handler { return h }
	if c.RateLimitMiddleware == nil {
		c.RateLimitMiddleware = passthrough
	}
	if c.LoggerMiddleware == nil {
		c.LoggerMiddleware = passthrough
	}

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", c.RateLimitMiddleware(c.Auth.Handler())))
	root.Handle("/api/user/", http.StripPrefix("/api/user", c.AuthMiddleware(c.User.Handler())))

	if c.Metrics != nil {
		root.Handle("GET /metrics", c.Metrics)
	}
	if c.Health != nil {
		root.Handle("GET /healthz", c.Health)
	}

	return chain(root, c.LoggerMiddleware)
}
