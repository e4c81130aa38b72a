package middleware

import (
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/overgate-io/overgate/internal/config"
)

// IngressLimit is a server-wide admission guard protecting the gateway
// process itself. It is independent of the per-endpoint rate limiting
// done inside the pipeline: this one bounds total inbound load, the
// pipeline's limiters enforce tenant quotas.
func IngressLimit(cfg *config.GlobalRateLimitConfig) func(http.Handler) http.Handler {
	if cfg == nil || cfg.RPS <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RPS
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"code":"RATE_LIMITED","message":"server is at capacity"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares around a handler, first listed runs
// outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
