package integration

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nkorolev/credd/internal/handlers"
	"github.com/nkorolev/credd/internal/handlers/middleware"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/metrics"
	"github.com/nkorolev/credd/internal/repository/postgres"
	"github.com/nkorolev/credd/internal/service/auth"
	"github.com/nkorolev/credd/internal/testutil"
)

type Services struct {
	AuthService    *auth.AuthService
	SessionManager *auth.SessionManager
}

// Create db transaction and run server with that connection (one connection cause one transaction)
// Rollback the transaction when the test stops, so the db remains unchanged
func RunTx(dbpool *pgxpool.Pool, t *testing.T, fn func(srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize repositories
		storage := postgres.NewStorage(tx)

		// Initialize services
		tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
			SecretKey: "integration-secret-key",
			AccessTTL: 15 * time.Minute,
		})
		require.NoError(t, err, "token manager should be created without errors")

		sessionManager, err := auth.NewSessionManager(24*time.Hour, storage.Session())
		require.NoError(t, err, "session manager should be created without errors")

		as, err := auth.NewService(
			auth.Config{
				Hasher: auth.BcryptHasher{Cost: 4},
				Policy: auth.PasswordPolicy{RequireDigit: true, RequireLetter: true},
			},
			tokenManager,
			sessionManager,
			storage,
		)
		require.NoError(t, err, "auth service couldn't be started")

		// Initialize handlers
		log := logger.NewNoOp()
		registry := prometheus.NewRegistry()
		collector := metrics.NewCollector(registry)

		router := handlers.NewRouter(handlers.RouterConfig{
			Auth:           handlers.NewAuth(as, collector, log),
			User:           handlers.NewUser(as, collector, log),
			AuthMiddleware: middleware.AuthMiddleware(as),
			Metrics:        metrics.Handler(registry),
			Health:         handlers.NewHealth(dbpool),
		})

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(srv.URL, Services{
			AuthService:    as,
			SessionManager: sessionManager,
		})
	})
}
