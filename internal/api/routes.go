package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/pkg/httputil"
)

// SetupRoutes configures all API routes. Webhooks authenticate by
// signature; everything under /api/cdp requires the bearer token when one
// is configured.
func SetupRoutes(h *Handlers, health *HealthChecker, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3333"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/ready", health.HandleReadiness)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/typeform", h.TypeformWebhook)
		r.Post("/resend", h.ResendWebhook)
	})

	r.Route("/api/cdp", func(r chi.Router) {
		if cfg.APIToken != "" {
			r.Use(bearerAuth(cfg.APIToken))
		}

		r.Route("/segments", func(r chi.Router) {
			r.Post("/evaluate", h.EvaluateSegments)
			r.Post("/sync", h.SyncAllAudiences)
			r.Get("/{id}/preview", h.PreviewSegment)
			r.Post("/{id}/sync", h.SyncSegment)
			r.Post("/{id}/audience", h.ProvisionAudience)
		})

		r.Route("/flows", func(r chi.Router) {
			r.Post("/process-pending", h.ProcessPending)
			r.Post("/{flowID}/enroll/{applicantID}", h.EnrollApplicant)
		})

		r.Put("/applicants/{id}/status", h.UpdateApplicantStatus)
		r.Get("/templates/{id}/preview", h.PreviewTemplate)
		r.Post("/sync/sharepoint", h.SyncSharePoint)
	})

	return r
}

// bearerAuth rejects requests without "Authorization: Bearer <token>".
func bearerAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				httputil.Unauthorized(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
