package middleware

import (
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter rate-limits inbound requests with one token bucket shared
// across all clients.
type Limiter struct {
	limiter  *rate.Limiter
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewLimiter creates a limiter allowing rps requests per second with
// the given burst. A zero burst defaults to rps rounded down, minimum
// one.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Middleware returns a middleware that rejects requests over the limit
// with 429.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.limiter.Allow() {
				l.rejected.Add(1)
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			l.allowed.Add(1)
			next.ServeHTTP(w, r)
		})
	}
}

// Stats returns allowed and rejected request counts.
func (l *Limiter) Stats() map[string]int64 {
	return map[string]int64{
		"allowed":  l.allowed.Load(),
		"rejected": l.rejected.Load(),
	}
}
