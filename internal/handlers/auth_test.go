package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nkorolev/credd/internal/handlers/middleware"
	"github.com/nkorolev/credd/internal/logger"
	"github.com/nkorolev/credd/internal/metrics"
	"github.com/nkorolev/credd/internal/repository/postgres"
	"github.com/nkorolev/credd/internal/service/auth"
	"github.com/nkorolev/credd/internal/testutil"
)

// newService wires the real auth service over the given tx
func newService(t *testing.T, tx pgx.Tx) *auth.AuthService {
	t.Helper()

	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{SecretKey: "test-secret-key"})
	require.NoError(t, err)
	sessionManager, err := auth.NewSessionManager(24*time.Hour, &postgres.SessionRepo{DB: tx})
	require.NoError(t, err)

	service, err := auth.NewService(
		auth.Config{Hasher: auth.BcryptHasher{Cost: 4}},
		tokenManager,
		sessionManager,
		postgres.NewStorage(tx),
	)
	require.NoError(t, err)

	return service
}

// newAPI puts the service into the router, the way the server app does it
func newAPI(t *testing.T, tx pgx.Tx) http.Handler {
	t.Helper()

	service := newService(t, tx)
	log := logger.NewNoOp()
	collector := metrics.NewCollector(prometheus.NewRegistry())

	return NewRouter(RouterConfig{
		Auth:           NewAuth(service, collector, log),
		User:           NewUser(service, collector, log),
		AuthMiddleware: middleware.AuthMiddleware(service),
	})
}

type recorderMock struct {
	registrations int
	revocations   int64
}

func (m *recorderMock) RecordRegistration()           { m.registrations++ }
func (m *recorderMock) RecordLogin(bool)              {}
func (m *recorderMock) RecordRefresh(bool)            {}
func (m *recorderMock) RecordRevocations(count int64) { m.revocations += count }

func doJSON(t *testing.T, api http.Handler, method string, path string, body string, mutate ...func(r *http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range mutate {
		fn(req)
	}

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	return rec
}

type pairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func Test_AuthHandler(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withAPI := func(dbpool *pgxpool.Pool, t *testing.T, fn func(api http.Handler)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			fn(newAPI(t, tx))
		})
	}

	register := func(t *testing.T, api http.Handler, login string, password string) pairResponse {
		t.Helper()

		rec := doJSON(t, api, http.MethodPost, "/api/auth/register",
			`{"login": "`+login+`", "password": "`+password+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, "registration should pass: %s", rec.Body.String())

		var pair pairResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
		return pair
	}

	t.Run("register", func(t *testing.T) {
		t.Run("201 with tokens", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/register",
					`{"login": "nkorolev", "password": "StrongEnoughPwd"}`)

				require.Equal(t, http.StatusCreated, rec.Code)

				var body struct {
					ID       string `json:"id"`
					Username string `json:"username"`
					pairResponse
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.NotEmpty(t, body.ID)
				require.Equal(t, "nkorolev", body.Username)
				require.NotEmpty(t, body.AccessToken)
				require.NotEmpty(t, body.RefreshToken)

				require.True(t, strings.HasPrefix(rec.Header().Get("Authorization"), "Bearer "), "access token should be set to header")

				cookies := rec.Result().Cookies()
				require.Len(t, cookies, 1, "refresh cookie should be set")
				require.Equal(t, "refreshtoken", cookies[0].Name)
				require.True(t, cookies[0].HttpOnly, "refresh cookie must be http only")
			})
		})

		t.Run("409 if user exists", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/auth/register",
					`{"login": "nkorolev", "password": "OtherStrongPwd1"}`)

				require.Equal(t, http.StatusConflict, rec.Code)
			})
		})

		t.Run("400 if password weak", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/register",
					`{"login": "nkorolev", "password": "short"}`)

				require.Equal(t, http.StatusBadRequest, rec.Code)
			})
		})

		t.Run("400 if body invalid", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/register", `{"login": "n"}`)

				require.Equal(t, http.StatusBadRequest, rec.Code)
			})
		})
	})

	t.Run("login", func(t *testing.T) {
		t.Run("200 with tokens", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/auth/login",
					`{"login": "nkorolev", "password": "StrongEnoughPwd"}`)

				require.Equal(t, http.StatusOK, rec.Code)

				var pair pairResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
				require.NotEmpty(t, pair.AccessToken)
				require.NotEmpty(t, pair.RefreshToken)
			})
		})

		t.Run("same 401 for wrong password and unknown user", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				register(t, api, "nkorolev", "StrongEnoughPwd")

				wrongPwd := doJSON(t, api, http.MethodPost, "/api/auth/login",
					`{"login": "nkorolev", "password": "WrongPassword1"}`)
				unknownUser := doJSON(t, api, http.MethodPost, "/api/auth/login",
					`{"login": "not-existed-user", "password": "StrongEnoughPwd"}`)

				require.Equal(t, http.StatusUnauthorized, wrongPwd.Code)
				require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
				require.Equal(t, wrongPwd.Body.String(), unknownUser.Body.String(), "responses must not tell the cases apart")
			})
		})
	})

	t.Run("refresh", func(t *testing.T) {
		t.Run("200 with new pair", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				initial := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/auth/refresh",
					`{"refresh_token": "`+initial.RefreshToken+`"}`)

				require.Equal(t, http.StatusOK, rec.Code)

				var pair pairResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
				require.NotEqual(t, initial.AccessToken, pair.AccessToken)
				require.NotEqual(t, initial.RefreshToken, pair.RefreshToken)
			})
		})

		t.Run("401 if token reused", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				initial := register(t, api, "nkorolev", "StrongEnoughPwd")
				body := `{"refresh_token": "` + initial.RefreshToken + `"}`

				rec := doJSON(t, api, http.MethodPost, "/api/auth/refresh", body)
				require.Equal(t, http.StatusOK, rec.Code)

				rec = doJSON(t, api, http.MethodPost, "/api/auth/refresh", body)
				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		t.Run("cookie fallback", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				initial := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/auth/refresh", "",
					func(r *http.Request) {
						r.AddCookie(&http.Cookie{Name: "refreshtoken", Value: initial.RefreshToken})
					})

				require.Equal(t, http.StatusOK, rec.Code)
			})
		})

		t.Run("401 if token missing", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/refresh", "")

				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		t.Run("401 if token unknown", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/refresh",
					`{"refresh_token": "not-existed-token"}`)

				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})
	})

	t.Run("logout", func(t *testing.T) {
		t.Run("204 and session terminated", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				initial := register(t, api, "nkorolev", "StrongEnoughPwd")
				body := `{"refresh_token": "` + initial.RefreshToken + `"}`

				rec := doJSON(t, api, http.MethodPost, "/api/auth/logout", body)
				require.Equal(t, http.StatusNoContent, rec.Code)

				rec = doJSON(t, api, http.MethodPost, "/api/auth/refresh", body)
				require.Equal(t, http.StatusUnauthorized, rec.Code, "refresh after logout must fail")
			})
		})

		t.Run("204 without token", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodPost, "/api/auth/logout", "")

				require.Equal(t, http.StatusNoContent, rec.Code)
			})
		})

		t.Run("revocation counted only when a session died", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				service := newService(t, tx)
				m := &recorderMock{}
				api := NewAuth(service, m, logger.NewNoOp()).Handler()

				_, pair, err := service.Register(t.Context(), "nkorolev", "StrongEnoughPwd")
				require.NoError(t, err)

				rec := doJSON(t, api, http.MethodPost, "/logout", `{"refresh_token": "never-issued"}`)
				require.Equal(t, http.StatusNoContent, rec.Code)
				require.Zero(t, m.revocations, "unknown token revoked nothing")

				rec = doJSON(t, api, http.MethodPost, "/logout", `{"refresh_token": "`+pair.Refresh.Value+`"}`)
				require.Equal(t, http.StatusNoContent, rec.Code)
				require.Equal(t, int64(1), m.revocations)
			})
		})
	})
}

func Test_UserHandler(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withAPI := func(dbpool *pgxpool.Pool, t *testing.T, fn func(api http.Handler)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			fn(newAPI(t, tx))
		})
	}

	register := func(t *testing.T, api http.Handler, login string, password string) pairResponse {
		t.Helper()

		rec := doJSON(t, api, http.MethodPost, "/api/auth/register",
			`{"login": "`+login+`", "password": "`+password+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, "registration should pass: %s", rec.Body.String())

		var pair pairResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
		return pair
	}

	asUser := func(access string) func(r *http.Request) {
		return func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+access)
		}
	}

	t.Run("me", func(t *testing.T) {
		t.Run("200 with profile", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				pair := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodGet, "/api/user/me", "", asUser(pair.AccessToken))

				require.Equal(t, http.StatusOK, rec.Code)

				var body struct {
					ID       string `json:"id"`
					Username string `json:"username"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, "nkorolev", body.Username)
				require.NotEmpty(t, body.ID)
			})
		})

		t.Run("401 without token", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodGet, "/api/user/me", "")

				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		t.Run("401 with garbage token", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				rec := doJSON(t, api, http.MethodGet, "/api/user/me", "", asUser("not-a-jwt"))

				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})
	})

	t.Run("change password", func(t *testing.T) {
		t.Run("204 and sessions revoked", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				pair := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/user/password",
					`{"old_password": "StrongEnoughPwd", "new_password": "EvenStrongerPwd1"}`,
					asUser(pair.AccessToken))
				require.Equal(t, http.StatusNoContent, rec.Code)

				rec = doJSON(t, api, http.MethodPost, "/api/auth/refresh",
					`{"refresh_token": "`+pair.RefreshToken+`"}`)
				require.Equal(t, http.StatusUnauthorized, rec.Code, "old session must die with the old password")

				rec = doJSON(t, api, http.MethodPost, "/api/auth/login",
					`{"login": "nkorolev", "password": "EvenStrongerPwd1"}`)
				require.Equal(t, http.StatusOK, rec.Code, "new password must work")
			})
		})

		t.Run("401 if old password wrong", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				pair := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/user/password",
					`{"old_password": "WrongOldPwd1", "new_password": "EvenStrongerPwd1"}`,
					asUser(pair.AccessToken))

				require.Equal(t, http.StatusUnauthorized, rec.Code)
			})
		})

		t.Run("400 if new password weak", func(t *testing.T) {
			withAPI(pg.Pool, t, func(api http.Handler) {
				pair := register(t, api, "nkorolev", "StrongEnoughPwd")

				rec := doJSON(t, api, http.MethodPost, "/api/user/password",
					`{"old_password": "StrongEnoughPwd", "new_password": "short"}`,
					asUser(pair.AccessToken))

				require.Equal(t, http.StatusBadRequest, rec.Code)
			})
		})
	})

	t.Run("logout all", func(t *testing.T) {
		withAPI(pg.Pool, t, func(api http.Handler) {
			pair := register(t, api, "nkorolev", "StrongEnoughPwd")

			second := doJSON(t, api, http.MethodPost, "/api/auth/login",
				`{"login": "nkorolev", "password": "StrongEnoughPwd"}`)
			require.Equal(t, http.StatusOK, second.Code)

			rec := doJSON(t, api, http.MethodPost, "/api/user/logout_all", "", asUser(pair.AccessToken))

			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Revoked int64 `json:"revoked"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, int64(2), body.Revoked)

			rec = doJSON(t, api, http.MethodPost, "/api/auth/refresh",
				`{"refresh_token": "`+pair.RefreshToken+`"}`)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	})
}
