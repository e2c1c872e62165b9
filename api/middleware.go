package api

import (
	"net/http"
	"strings"

	"github.com/sublite/sublite/cfg"
)

// AuthMiddleware validates PSK authentication for the v1 endpoints. With no
// secret configured every request passes.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := cfg.Config.HTTP.Secret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check X-Sublite-Secret header
		providedSecret := r.Header.Get("X-Sublite-Secret")
		if providedSecret == "" {
			// Check Authorization: Bearer header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			providedSecret = parts[1]
		}

		if providedSecret != secret {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
