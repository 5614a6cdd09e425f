package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetCallerID(r.Context())))
	})
}

func TestMiddleware(t *testing.T) {
	cfg := NewJWTConfig("s3cret")
	valid := sign(t, "s3cret", jwt.MapClaims{"sub": "operator-1", "exp": time.Now().Add(time.Hour).Unix()})
	expired := sign(t, "s3cret", jwt.MapClaims{"sub": "operator-1", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := sign(t, "other", jwt.MapClaims{"sub": "operator-1"})

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantCaller string
	}{
		{"anonymous", func(r *http.Request) {}, http.StatusOK, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK, "operator-1"},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + valid }, http.StatusOK, "operator-1"},
		{"dev header", func(r *http.Request) { r.Header.Set(DevCallerHeader, "dev") }, http.StatusOK, "dev"},
		{"expired", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, http.StatusUnauthorized, ""},
		{"wrong key", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+wrongKey) }, http.StatusUnauthorized, ""},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			cfg.Middleware(callerEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantCaller, rec.Body.String())
			}
		})
	}
}

func TestMiddlewareRequired(t *testing.T) {
	cfg := NewJWTConfig("s3cret")
	cfg.Required = true
	cfg.AllowDevHeader = false

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevCallerHeader, "dev")
	rec := httptest.NewRecorder()
	cfg.Middleware(callerEcho()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseTokenRequiresSubject(t *testing.T) {
	cfg := NewJWTConfig("s3cret")
	_, err := cfg.ParseToken(sign(t, "s3cret", jwt.MapClaims{"role": "admin"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
