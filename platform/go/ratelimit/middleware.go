package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// KeyFunc derives the limiter key from a request, typically the client IP
// normalized by chi's RealIP middleware.
type KeyFunc func(r *http.Request) string

// ClientIPKey keys the budget by the caller's network identity.
func ClientIPKey(r *http.Request) string {
	return r.RemoteAddr
}

// Middleware enforces the limiter per request key. Denied requests get a 429
// with Retry-After and X-RateLimit-* headers and are logged so rejected
// attempts stay visible to security tooling. A store failure fails open with a
// warning rather than taking the endpoint down.
func Middleware(l *Limiter, keyFn KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIPKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)

			decision, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, failing open",
					zap.String("key", key),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

			if !decision.Allowed {
				logger.Warn("request rate limited",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter(now)))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
