package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerIDKey contextKey = "callerID"

// DevCallerHeader lets local tooling name the caller without a token.
const DevCallerHeader = "X-Caller-ID"

const defaultSecret = "default-secret-key-change-in-production"

var ErrInvalidToken = errors.New("invalid token")

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
	// Required rejects requests that carry no caller identity.
	Required bool
	// AllowDevHeader accepts DevCallerHeader in place of a token.
	AllowDevHeader bool
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string) *JWTConfig {
	if secretKey == "" {
		secretKey = defaultSecret
	}
	return &JWTConfig{SecretKey: secretKey, AllowDevHeader: true}
}

// ParseToken validates an HMAC-signed token and returns its subject.
func (c *JWTConfig) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// CallerFromRequest resolves the caller from a bearer token, a token query
// parameter (WebSocket clients cannot set headers) or the dev header.
// It returns "" for anonymous requests.
func (c *JWTConfig) CallerFromRequest(r *http.Request) (string, error) {
	if c.AllowDevHeader {
		if id := r.Header.Get(DevCallerHeader); id != "" {
			return id, nil
		}
	}

	tokenString := r.URL.Query().Get("token")
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", ErrInvalidToken
		}
		tokenString = parts[1]
	}
	if tokenString == "" {
		return "", nil
	}
	return c.ParseToken(tokenString)
}

// Middleware stores the caller identity in the request context.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID, err := c.CallerFromRequest(r)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		if callerID == "" {
			if c.Required {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), callerID)))
	})
}

func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// GetCallerID extracts the caller identity from context
func GetCallerID(ctx context.Context) string {
	if id, ok := ctx.Value(callerIDKey).(string); ok {
		return id
	}
	return ""
}
