package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ayush/task-manager/internal/httpx"
	"github.com/ayush/task-manager/internal/models"
	"github.com/ayush/task-manager/internal/store"
)

type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// AuthFailed is the only message an unauthenticated caller ever sees.
const AuthFailed = "Please authenticate"

// TokenVerifier checks a token's signature and expiry and returns its subject.
type TokenVerifier interface {
	Subject(token string) (string, error)
}

// UserLookup finds a user that still holds token as an active session.
type UserLookup interface {
	FindByIDAndToken(ctx context.Context, id, token string) (*models.User, error)
}

// RequireAuth is middleware that validates the bearer token and injects the
// user and the token into the request context. A well-signed token that the
// user has since revoked is rejected.
func RequireAuth(tokens TokenVerifier, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := bearerToken(r)
			if !ok {
				reject(w, r, "missing bearer token", nil)
				return
			}

			userID, err := tokens.Subject(token)
			if err != nil {
				reject(w, r, "token verification failed", err)
				return
			}

			user, err := users.FindByIDAndToken(ctx, userID, token)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					slog.ErrorContext(ctx, "auth user lookup", "error", err, "user_id", userID)
				}
				reject(w, r, "no active session for token", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(ctx, user, token)))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	slog.DebugContext(r.Context(), "authentication rejected", "reason", reason, "error", err, "path", r.URL.Path)
	httpx.WriteError(w, http.StatusUnauthorized, AuthFailed)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUser returns a copy of ctx carrying the authenticated user and token.
func WithUser(ctx context.Context, user *models.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

// UserFromContext retrieves the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	if user, ok := ctx.Value(userKey).(*models.User); ok {
		return user
	}
	return nil
}

// TokenFromContext retrieves the token the request authenticated with.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
