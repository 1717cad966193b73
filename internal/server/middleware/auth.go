package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/captchad/captchad/internal/service"
)

type contextKeyAuth string

// TokenKey is the context key for the authenticated token secret.
const TokenKey contextKeyAuth = "auth_token"

// SessionCookie is the admin session cookie name.
const SessionCookie = "admin_session"

// RequireToken validates the X-Token header through the authorization gate
// before any recognition work happens. Gate failures map to 403 (missing,
// unprovisioned, or unknown token) and 429 (rate limited); usage is recorded
// by the gate only for admitted requests.
func RequireToken(gate *service.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret, err := gate.Authorize(r.Header.Get("X-Token"))
			if err != nil {
				status, msg := gateErrorStatus(err)
				writeAuthError(w, status, msg)
				return
			}

			ctx := context.WithValue(r.Context(), TokenKey, secret)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func gateErrorStatus(err error) (int, string) {
	var rl *service.RateLimitError
	switch {
	case errors.Is(err, service.ErrMissingToken):
		return http.StatusForbidden, "Missing token. Provide the X-Token header."
	case errors.Is(err, service.ErrNotConfigured):
		return http.StatusForbidden, "No tokens configured. Provision one via the admin interface."
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusForbidden, "Token validation failed."
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "Rate limited: " + rl.Error() + "."
	default:
		return http.StatusInternalServerError, "Authorization error."
	}
}

// GetToken extracts the authenticated token secret from the context. Empty
// means the request did not pass through RequireToken.
func GetToken(ctx context.Context) string {
	if s, ok := ctx.Value(TokenKey).(string); ok {
		return s
	}
	return ""
}

// RequireSession enforces a valid admin session cookie on admin API routes.
func RequireSession(sessions *service.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validSession(r, sessions) {
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePageSession guards HTML admin pages, redirecting to the login page
// instead of answering JSON.
func RequirePageSession(sessions *service.SessionStore, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validSession(r, sessions) {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validSession(r *http.Request, sessions *service.SessionStore) bool {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	return sessions.Validate(cookie.Value)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoded by hand to avoid an import cycle with the handler package.
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": status, "message": message},
	})
}
