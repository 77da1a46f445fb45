package middleware

import (
	"net/http"

	"github.com/Strob0t/feedbacksync/internal/domain/user"
)

// RequireRole returns middleware that restricts access to users with one of the given roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[user.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := UserFromContext(r.Context())
			if u == nil {
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			if !allowed[u.Role] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature rejects requests with 403 while enabled reports false.
// enabled is evaluated per request so the flag can change at runtime.
func RequireFeature(name string, enabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled() {
				writeError(w, http.StatusForbidden, "feature "+name+" is not enabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
