package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"guardcli/internal/config"
	"guardcli/internal/security"
)

// Version is stamped at build time
var Version = "dev"

// NewRouter assembles the local status API
func NewRouter(cfg *config.Config, session *SessionHandler, fingerprints *security.FingerprintManager, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TraceContext)
	r.Use(RateLimit(cfg.Security.RateLimit, logger))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler)
		r.Mount("/session", session.Routes())
		r.Get("/fingerprint", fingerprintHandler(fingerprints))
	})

	r.Get("/ws", session.ServeEvents)

	return r
}

// healthHandler handles GET /api/health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().UTC(),
	})
}

// fingerprintHandler handles GET /api/fingerprint, exposing the device
// identity for diagnostics. The raw factors help support explain why a
// machine stopped matching its binding.
func fingerprintHandler(manager *security.FingerprintManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fp := manager.Generate()
		render.JSON(w, r, map[string]any{
			"fingerprint": fp.Fingerprint,
			"components":  manager.Components(),
		})
	}
}
