package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"nbexec/internal/gateway/handlers"
)

// Auth requires "Authorization: Bearer <token>" on every request whose path
// is not exempt. An empty token disables the check.
func Auth(token string, exempt func(path string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || (exempt != nil && exempt(r.URL.Path)) {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="nbexec"`)
				handlers.Fail(w, handlers.ErrCodeUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
