package api

import (
	"net/http"
	"strings"
)

// RequireAdminToken guards the management endpoints with a bearer
// token. Management access is disabled entirely when no token is
// configured.
func RequireAdminToken(expectedToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(expectedToken) == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin API token not configured"})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		}

		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bitaqa-admin"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing admin token"})
			return
		}

		if token != expectedToken {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
