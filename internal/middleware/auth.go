package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// TokenVerifier resolves a bearer token to a user id
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Auth requires a valid "Authorization: Bearer <token>" header
func Auth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, domain.MsgTokenRequired)
				return
			}

			userID, err := tokens.Verify(token)
			if err != nil {
				msg := domain.MsgTokenInvalid
				if errors.Is(err, domain.ErrTokenExpired) {
					msg = domain.MsgTokenExpired
				}
				writeJSONError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = observability.WithUserID(ctx, userID)

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

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
