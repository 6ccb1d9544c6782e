package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkorolev/credd/internal/db"
	"github.com/nkorolev/credd/internal/handlers"
	"github.com/nkorolev/credd/internal/handlers/middleware"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/metrics"
	"github.com/nkorolev/credd/internal/repository/postgres"
	"github.com/nkorolev/credd/internal/service/auth"
)

const sessionPurgeInterval = time.Hour

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger         logger.Logger
	sessionManager *auth.SessionManager
	closeStore     func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Missing signing key is a config error, fail before touching anything else
	if c.SecretKey == "" {
		return nil, errors.New("secret key must be set, generate one with cmd/gensecret")
	}

	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	// The pool is pinged inside, so the store is known good before we listen
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: c.SecretKey,
		Alg:       c.TokenAlg,
		AccessTTL: c.AccessTokenTTL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	sessionManager, err := auth.NewSessionManager(c.RefreshTokenTTL, storage.Session())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating session manager. Err: %w", err)
	}

	authService, err := auth.NewService(
		auth.Config{
			Hasher:       auth.BcryptHasher{Cost: c.HashCost},
			Policy:       auth.PasswordPolicy{RequireDigit: true, RequireLetter: true},
			StoreTimeout: c.StoreTimeout,
		},
		tokenManager,
		sessionManager,
		storage,
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	// Initialize metrics
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	// Initialize handlers
	mux := handlers.NewRouter(handlers.RouterConfig{
		Auth:                handlers.NewAuth(authService, collector, log),
		User:                handlers.NewUser(authService, collector, log),
		AuthMiddleware:      middleware.AuthMiddleware(authService),
		RateLimitMiddleware: middleware.RateLimitMiddleware(c.RateLimit, time.Minute),
		LoggerMiddleware:    middleware.LoggerMiddleware(log),
		Metrics:             metrics.Handler(prometheus.DefaultGatherer),
		Health:              handlers.NewHealth(pool),
	})

	return &ServerApp{
		ListenAddr:     c.ListenAddr,
		Handler:        mux,
		logger:         log,
		sessionManager: sessionManager,
		closeStore:     pool.Close,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	defer s.closeStore()

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	// Expired sessions are deleted in background while the server runs
	go s.sessionManager.RunPurge(srvCtx, sessionPurgeInterval, s.logger)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
