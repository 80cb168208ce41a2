package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/strellerminds/pulse/internal/model"
)

// KeyFunc extracts the rate limit key from a request. Returning an empty
// string skips rate limiting for the request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context. Injected
// by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces a rate limit. A nil
// limiter disables limiting for the wrapped routes. Limiter errors fail
// open.
func Middleware(limiter Limiter, prefix string, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), prefix+":"+key)
			if err != nil || allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", "1")
			var requestID string
			if reqIDFunc != nil {
				requestID = reqIDFunc(r)
			}
			writeRateLimitError(w, requestID)
		})
	}
}

// writeRateLimitError writes a rate-limit error using the standard API
// error envelope.
func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc extracts the client IP from the request for rate limiting.
// Uses RemoteAddr only; X-Forwarded-For is not trusted because any client
// can set an arbitrary value to bypass limiting. Behind a trusted proxy,
// configure the proxy to rewrite RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
