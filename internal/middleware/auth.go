package middleware

import (
	"context"
	"net/http"
	"strings"
)

// Auth validates the Bearer session credential and injects the user's
// identity into the request context
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, `{"error":"unauthorized","message":"Missing or invalid authorization header"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateSession(token)
		if err != nil {
			http.Error(w, `{"error":"unauthorized","message":"Invalid or expired session"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
		ctx = context.WithValue(ctx, AdminKey, claims.Admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin refuses requests from non-admin sessions. It must run
// after Auth.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			http.Error(w, `{"error":"forbidden","message":"Administrator access required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
