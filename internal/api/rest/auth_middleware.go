package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Claims are the JWT claims admin tokens carry. Subject is the admin's user
// id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AuthMiddleware validates HMAC-signed bearer tokens on the admin surface and
// puts the acting admin's id on the request context.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates the JWT middleware.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Middleware rejects requests without a valid admin token.
func (a *AuthMiddleware) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
				func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
					}
					return a.secret, nil
				})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			if claims.Role != "admin" {
				http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
				return
			}
			actor, err := uuid.Parse(claims.Subject)
			if err != nil {
				http.Error(w, `{"error":"invalid subject claim"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), actorContextKey, actor)))
		})
	}
}

// IssueToken mints an admin token, used by operational tooling.
func (a *AuthMiddleware) IssueToken(adminID uuid.UUID, expiry time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: "admin",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// actorFrom extracts the acting admin set by the auth middleware.
func actorFrom(ctx context.Context) uuid.UUID {
	if actor, ok := ctx.Value(actorContextKey).(uuid.UUID); ok {
		return actor
	}
	return uuid.Nil
}
