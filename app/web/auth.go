package web

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const authUser = "beatstore"

// authMiddleware checks basic auth against the bcrypt hash, /ping stays open
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			next.ServeHTTP(w, r)
			return
		}
		username, password, ok := r.BasicAuth()
		if ok && username == authUser {
			if err := bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)); err == nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="beatstore"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
