// Package server assembles the HTTP API: global middleware, session
// resolution and the module routers.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	caseapi "github.com/mj-trademark/portal/internal/case/api"
	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/identity"
	"github.com/mj-trademark/portal/internal/message"
	"github.com/mj-trademark/portal/internal/shared/auth"
	"github.com/mj-trademark/portal/internal/shared/config"
	"github.com/mj-trademark/portal/internal/shared/events"
	"github.com/mj-trademark/portal/internal/shared/logging"
	"github.com/mj-trademark/portal/internal/shared/metrics"
	secmiddleware "github.com/mj-trademark/portal/internal/shared/middleware"
	"github.com/mj-trademark/portal/internal/trademark"
)

// Deps holds everything the router needs.
type Deps struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Identity *identity.Service
	Cases    domain.Repository
	Messages message.Store
	Events   events.Store
	// Database probes the record store for /ready.
	Database func(ctx context.Context) error
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	emitter := events.NewEmitter(d.Events)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(d.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.SecurityHeaders)
	if cfg.Server.IsProduction() {
		r.Use(secmiddleware.StrictTransport)
	}
	r.Use(secmiddleware.CORS(cfg.CORS))

	// Operational endpoints
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(d))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(d.Identity, cfg.Auth.CookieName))

		var limiter *secmiddleware.IPRateLimiter
		if cfg.RateLimit.AuthRPS > 0 {
			limiter = secmiddleware.NewIPRateLimiter(cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst)
		}
		cookie := identity.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}
		r.Mount("/auth", identity.NewHandler(d.Identity, cookie, limiter).Routes())

		r.Mount("/cases", caseapi.NewHandler(d.Cases, emitter).Routes())
		r.Mount("/admin/cases", caseapi.NewAdminHandler(d.Cases, d.Identity.Store(), d.Events, emitter).Routes())
		r.Mount("/admin/staff", identity.NewStaffHandler(d.Identity).Routes())
		r.Mount("/messages", message.NewHandler(d.Messages, d.Cases, emitter).Routes())

		pricing := trademark.NewPricing(cfg.Pricing.AttorneyConsultationFee)
		r.Mount("/trademark", trademark.NewHandler(pricing, domain.StatusOptions()).Routes())
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func readyHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if d.Database != nil {
			if err := d.Database(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := d.Events.Health(); err != nil {
			checks["events"] = "not ready: " + err.Error()
		} else {
			checks["events"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
