package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auth-service/internal/model"
	"go-auth-service/pkg/apierror"
)

type fakeValidator map[string]int64

func (f fakeValidator) ValidateAccess(tokenString string) (int64, error) {
	if id, ok := f[tokenString]; ok {
		return id, nil
	}
	return 0, apierror.Of(model.ErrUnauthorized, "UNAUTHORIZED", "Token has expired", http.StatusUnauthorized)
}

func TestRequireAuth(t *testing.T) {
	mw := NewAuthMiddleware(fakeValidator{"good": 42})

	var seen int64
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{name: "valid token", header: "Bearer good", status: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer good", status: http.StatusNoContent},
		{name: "missing header", header: "", status: http.StatusUnauthorized, message: "missing or invalid authorization header"},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized, message: "missing or invalid authorization header"},
		{name: "empty token", header: "Bearer   ", status: http.StatusUnauthorized, message: "missing or invalid authorization header"},
		{name: "rejected token", header: "Bearer stale", status: http.StatusUnauthorized, message: "Token has expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusUnauthorized {
				assert.Equal(t, int64(42), seen)
				return
			}

			assert.Zero(t, seen)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

			var body model.APIResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := UserIDFromContext(req.Context())
	assert.False(t, ok)

	id, ok := UserIDFromContext(WithUserID(req.Context(), 7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLoggingSetsRequestID(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get(requestIDHeader))
}

func TestLoggingRecordsErrorsWithoutQuery(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	var unwrapped http.ResponseWriter
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
			unwrapped = u.Unwrap()
		}
		writeUnauthorized(w, "Token has expired")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh?refresh_token=leaked", nil))

	assert.Same(t, rec, unwrapped)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "UNAUTHORIZED", record["error_code"])
	assert.Equal(t, "Token has expired", record["error_message"])
	assert.NotContains(t, buf.String(), "leaked")
}
