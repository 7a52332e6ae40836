package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/http/response"
	"github.com/owlby/owlby-backend/internal/observability"
	"github.com/owlby/owlby-backend/internal/repository"
	"github.com/owlby/owlby-backend/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
	UserContextKey   contextKey = "user"
)

// UserResolver loads the account behind a verified token subject.
type UserResolver func(ctx context.Context, userID string) (*domain.User, error)

// AuthMiddleware gates protected routes on a bearer access token.
// Header and token failures are 401s resolved before any storage
// read; only a storage fault during user lookup is a 500.
func AuthMiddleware(jwtMgr *security.JWTManager, resolveUser UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header", nil)
				return
			}
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				observability.RecordAccessTokenValidation(r.Context(), "malformed")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed authorization header", nil)
				return
			}
			raw := strings.TrimSpace(auth[7:])
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "malformed")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed authorization header", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			user, err := resolveUser(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					observability.RecordAccessTokenValidation(r.Context(), "user_missing")
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "user not found", nil)
					return
				}
				observability.RecordAccessTokenValidation(r.Context(), "lookup_error")
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*domain.User)
	return u, ok
}
