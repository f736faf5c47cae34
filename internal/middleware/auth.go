package middleware

import (
	"context"
	"net/http"
	"strings"

	"yakkl-background/internal/observability"
	"yakkl-background/internal/session"
)

type contextKey string

const (
	TokenKey  contextKey = "session_token"
	ClaimsKey contextKey = "session_claims"
)

// TokenValidator decodes a bearer token into session claims
type TokenValidator interface {
	Claims(ctx context.Context, token string) (*session.Claims, error)
}

// Auth requires a valid session token in the Authorization header
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"Not authenticated"}`, http.StatusUnauthorized)
				return
			}

			claims, err := validator.Claims(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"Invalid or expired session"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithToken(r.Context(), token)
			ctx = WithClaims(ctx, claims)
			ctx = observability.WithSessionID(ctx, claims.SessionID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

func GetClaims(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*session.Claims)
	return claims, ok
}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}

func WithClaims(ctx context.Context, claims *session.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
