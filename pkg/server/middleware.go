package server

import (
	"net/http"

	"codecoach-hq/saturn/pkg/quota"
)

// UserIDFunc extracts the authenticated user identifier from a request.
// Returning "" skips admission for that request.
type UserIDFunc func(r *http.Request) string

// RateLimitMiddleware enforces the per-user API rate limit in-process, for
// applications that link the quota package instead of calling the sidecar.
//
// On every request it runs the combined check-and-increment, stamps the
// X-RateLimit-* headers, and rejects over-limit requests with 429. An
// infrastructure failure rejects with 503: when uncertain, fail closed.
//
// Example:
//
//	handler := server.RateLimitMiddleware(manager, userFromSession)(apiMux)
func RateLimitMiddleware(manager *quota.Manager, userID UserIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := userID(r)
			if user == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := manager.CheckRateLimit(r.Context(), user)
			if err != nil {
				http.Error(w, "rate limit check unavailable", http.StatusServiceUnavailable)
				return
			}

			setRateLimitHeaders(w, result)

			if !result.Allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
