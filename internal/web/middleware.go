package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAuth accepts the API token as a bearer token, or as the token
// query parameter so report links open in a browser.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			var ok bool
			token, ok = strings.CutPrefix(auth, "Bearer ")
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if token == "" || s.config.AuthToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AuthToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
