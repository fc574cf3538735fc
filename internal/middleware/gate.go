package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitConfig holds configuration for a specific rate limit
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// IPGate refuses requests from blocked IPs before any other processing.
// The rejection is uniform: the blocked party learns nothing about the
// block beyond the status code.
func (m *Middleware) IPGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if m.security.IsIPBlocked(r.Context(), ip) {
			http.Error(w, `{"error":"forbidden","message":"Access denied."}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit creates a per-endpoint rate limiting middleware. The
// endpoint key is the route pattern, so all clients of one endpoint
// share a policy but each client IP gets its own window.
func (m *Middleware) RateLimit(endpoint string, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := ClientIP(r)

			allowed := m.security.CheckRateLimit(ctx, ip, endpoint, cfg.Limit, cfg.Window)

			// Headers reflect a read-only projection of the window;
			// a status failure only costs the headers, not the request.
			if status, err := m.security.RateLimitStatusWith(ctx, ip, endpoint, cfg.Limit, cfg.Window); err == nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(status.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetTime.Unix(), 10))

				if !allowed {
					retryAfter := int64(time.Until(status.ResetTime).Seconds())
					if retryAfter < 0 {
						retryAfter = 0
					}
					w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				}
			}

			if !allowed {
				http.Error(w, `{"error":"rate_limit_exceeded","message":"Too many requests. Please try again later."}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
