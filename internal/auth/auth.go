package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BearBump/SafeArrival/internal/apperr"
	"github.com/BearBump/SafeArrival/internal/models"
)

// Verifier turns a bearer token into a session.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Session, error)
}

type ctxKey struct{}

func WithSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session stored by Middleware; the zero Session
// when the request was not authenticated.
func SessionFrom(ctx context.Context) models.Session {
	s, _ := ctx.Value(ctxKey{}).(models.Session)
	return s
}

// Require fails with AuthRequired on an empty session.
func Require(s models.Session) error {
	if !s.Authenticated() {
		return apperr.AuthRequired("no signed-in user")
	}
	return nil
}

// Middleware authenticates "Authorization: Bearer <token>" (or ?access_token=
// for websocket upgrades, which cannot set headers from browsers).
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			s, err := v.Verify(r.Context(), token)
			if err != nil {
				slog.Warn("auth rejected", "path", r.URL.Path, "error", err.Error())
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	if websocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
