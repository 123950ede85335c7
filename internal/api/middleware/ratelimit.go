package middleware

import (
	"net/http"

	"github.com/mcoot/spinroom/internal/api/apierr"
	"github.com/mcoot/spinroom/internal/middleware"
)

// RateLimit creates per-IP rate limiting middleware for the API
// Returns JSON error responses when a client is over its limit
func RateLimit(limiter *middleware.IPRateLimiter) func(http.Handler) http.Handler {
	return middleware.RateLimit(limiter, apiRateLimitHandler)
}

func apiRateLimitHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Retry-After", "1")
	apierr.WriteError(w, apierr.NewRateLimitedError())
}
