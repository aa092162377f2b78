// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// TenantIDKey is the context key for tenant ID.
	TenantIDKey ContextKey = "tenant_id"
)

var (
	errMissingToken = errors.New("missing authorization header")
	errMalformed    = errors.New("invalid authorization header format")
	errNoSubject    = errors.New("token has no subject")
)

// Claims are the JWT claims the API accepts. The subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// Auth verifies an HMAC-signed bearer token and puts the user and tenant on
// the request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(30*time.Second),
	)
	key := func(*jwt.Token) (interface{}, error) { return []byte(jwtSecret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(parser, key, r.Header.Get("Authorization"))
			if err != nil {
				reject(w, http.StatusUnauthorized, err.Error(), 0)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, TenantIDKey, claims.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(parser *jwt.Parser, key jwt.Keyfunc, header string) (*Claims, error) {
	if header == "" {
		return nil, errMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, errMalformed
	}

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, key); err != nil {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetTenantID gets tenant ID from context.
func GetTenantID(ctx context.Context) string {
	id, _ := ctx.Value(TenantIDKey).(string)
	return id
}
