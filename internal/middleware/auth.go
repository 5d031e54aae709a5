package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// AccessTokenCookie carries the access token for clients that cannot set headers
const AccessTokenCookie = "auth_token"

type contextKey string

const (
	userKey   contextKey = "user"
	claimsKey contextKey = "claims"
)

// AccessValidator checks an access token without touching storage
type AccessValidator interface {
	ValidateAccess(token string) (*auth.JWTClaims, error)
}

// AuthMiddleware validates the access token, loads the user and attaches both to the context.
// Deleted users get 401 and locked users 423 even while their token is still unexpired.
func AuthMiddleware(tokens AccessValidator, userRepo repo.UserRepo, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := accessToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := tokens.ValidateAccess(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if !errors.Is(err, repo.ErrNotFound) {
					logger.Error("auth middleware: load user", zap.String("user_id", claims.UserID.String()), zap.Error(err))
					respondWithError(w, http.StatusInternalServerError, "internal server error")
					return
				}
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}
			if user.Locked {
				RespondLocked(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// accessToken prefers the Bearer header and falls back to the auth_token cookie.
func accessToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetClaims returns the verified access token claims
func GetClaims(ctx context.Context) (*auth.JWTClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.JWTClaims)
	return c, ok
}

// WithUser attaches a user to ctx the way AuthMiddleware does
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// RespondLocked writes the 423 body used for administratively locked accounts
func RespondLocked(w http.ResponseWriter) {
	writeJSON(w, http.StatusLocked, map[string]string{"error": "account locked", "reason": "admin_lock"})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
