package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// RequireBearer rejects requests whose Authorization header does not carry
// token. An empty token rejects everything.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return requireSecret(token, func(r *http.Request) string {
		h := r.Header.Get("Authorization")
		if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
			return ""
		}
		return strings.TrimSpace(h[7:])
	})
}

// RequireAPIKey guards the staff API with the X-API-Key header.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return requireSecret(key, func(r *http.Request) string {
		return r.Header.Get("X-API-Key")
	})
}

func requireSecret(secret string, extract func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := extract(r)
			if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				WriteError(w, &appErrors.AuthenticationError{Reason: "missing or invalid credentials"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
