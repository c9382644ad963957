package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"guardcli/internal/config"
	"guardcli/internal/infrastructure"
)

// RateLimit returns middleware that throttles the status API with a
// shared token bucket. The API serves a single machine, so one bucket
// covers all callers; a per-IP map would only ever hold loopback.
func RateLimit(cfg config.RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow() {
				logger.WarnContext(r.Context(), "request rate limited",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, ErrorResponse{
					Error:   "RATE_LIMITED",
					Message: "too many requests, slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TraceContext returns middleware that guarantees every request
// carries a trace ID, generating one when the caller sent none.
func TraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = infrastructure.GenerateTraceID()
		}
		ctx := infrastructure.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
