// Package ratelimit provides the external rate-limiter collaborator
// named in the engine's error-handling design: a refusal that happens
// before ingest and never mutates engine state.
package ratelimit

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate.Limiter for HTTP middleware.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter. reqPerSec is the sustained rate, burst is the
// maximum burst size.
func New(reqPerSec float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(time.Duration(1000.0/reqPerSec)*time.Millisecond), burst),
	}
}

// Allow reports whether the current request may proceed, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Middleware enforces the limiter on every request, responding 429
// with a plain-text body when refused, per the ingest endpoint's
// documented response codes.
func Middleware(next http.Handler, l *Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
