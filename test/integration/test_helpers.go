//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-auth-service/internal/app"
	"go-auth-service/internal/config"
	"go-auth-service/internal/handler"
	"go-auth-service/internal/middleware"
	"go-auth-service/internal/model"
	"go-auth-service/internal/router"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

// newServer serves the full router over a fresh SQLite database with one
// registered user, alice / correct-pw.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		ServerPort:     "8080",
		RequestTimeout: 30 * time.Second,
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    filepath.Join(t.TempDir(), "auth.db"),
		StoreTimeout:   5 * time.Second,
		JWTSecret:      "test-secret",
		JWTAlgorithm:   "HS256",
		JWTAccessTTL:   15 * time.Minute,
		JWTRefreshTTL:  24 * time.Hour,
		JWTLeeway:      10 * time.Second,
		TokenBytes:     16,
		HashCost:       4,
		CORSOrigins:    []string{"*"},
		LogFormat:      "pretty",
	}
	require.NoError(t, cfg.Validate())

	store, closeStore, err := app.OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	authService, err := app.NewAuthService(cfg, store)
	require.NoError(t, err)

	_, err = authService.Register(context.Background(), model.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-pw",
	})
	require.NoError(t, err)

	server := httptest.NewServer(router.New(
		cfg,
		middleware.NewAuthMiddleware(authService),
		handler.NewAuthHandler(authService),
		handler.NewHealthHandler(authService, time.Second),
	))
	t.Cleanup(server.Close)
	return server
}

func login(t *testing.T, server *httptest.Server, identifier string, password string) model.TokenPair {
	t.Helper()

	resp := postJSON(t, server.URL+"/api/v1/auth/login", map[string]string{"identifier": identifier, "password": password}, "")
	body := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair model.TokenPair
	require.NoError(t, json.Unmarshal(body.Data, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func postJSON(t *testing.T, url string, payload any, bearer string) *http.Response {
	t.Helper()

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return doRequest(t, req)
}

func get(t *testing.T, url string, bearer string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return doRequest(t, req)
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}
